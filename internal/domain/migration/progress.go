package migration

import (
	"fmt"
	"math"
	"time"
)

// PercentComplete is the share of known records already processed, in
// whole percent within [0, 100].
func PercentComplete(t Totals) int {
	if t.Total <= 0 {
		return 0
	}
	pct := int(math.Round(float64(t.Processed()) / float64(t.Total) * 100))
	return clampPercent(pct)
}

func SuccessRate(t Totals) int {
	if t.Total <= 0 {
		return 0
	}
	return clampPercent(int(math.Round(float64(t.Imported) / float64(t.Total) * 100)))
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}

// EstimateDuration is the coarse pre-flight estimate shown before a job is
// started: 100 contacts or 50 jobs a minute.
func EstimateDuration(contacts, jobs int) string {
	contacts = max(contacts, 0)
	jobs = max(jobs, 0)

	minutes := int(math.Ceil(float64(contacts)/100 + float64(jobs)/50))
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	return fmt.Sprintf("%d hours", int(math.Ceil(float64(minutes)/60)))
}

// EstimateRemaining extrapolates the observed throughput of a job over the
// records still to process. It returns "" until something was processed.
func EstimateRemaining(t Totals, startedAt *time.Time, now time.Time) string {
	processed := t.Processed()
	if startedAt == nil || processed <= 0 || t.Total <= processed {
		return ""
	}
	elapsed := now.Sub(*startedAt).Seconds()
	if elapsed <= 0 {
		return ""
	}
	perRecord := elapsed / float64(processed)
	return FormatDuration(int64(math.Ceil(perRecord * float64(t.Total-processed))))
}
