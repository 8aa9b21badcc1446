package migration

import "strings"

const (
	JobStatusNew        = "NEW"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
)

var externalJobStatuses = map[string]string{
	"lead":        JobStatusNew,
	"new":         JobStatusNew,
	"prospect":    JobStatusNew,
	"working":     JobStatusInProgress,
	"in progress": JobStatusInProgress,
	"scheduled":   JobStatusInProgress,
	"active":      JobStatusInProgress,
	"won":         JobStatusCompleted,
	"completed":   JobStatusCompleted,
	"closed":      JobStatusCompleted,
	"closed won":  JobStatusCompleted,
	"paid":        JobStatusCompleted,
}

// MapExternalStatus translates a CRM pipeline stage into a job status.
// Unknown stages map to NEW.
func MapExternalStatus(status string) string {
	key := strings.Join(strings.Fields(strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(status))), " ")
	if mapped, ok := externalJobStatuses[key]; ok {
		return mapped
	}
	return JobStatusNew
}
