package migration

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateStart checks everything a start request carries before a job row
// is created.
func ValidateStart(orgID string, source Source, opts Options) error {
	fields := map[string]string{}

	if strings.TrimSpace(orgID) == "" {
		fields["org_id"] = "is required"
	}
	if !source.Valid() {
		fields["source"] = "must be one of ACCULYNX, JOBNIMBUS, CSV, ROOFR, HOVER, OTHER"
	}

	if err := validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Wrap(err, "validate options")
		}
		for _, fe := range verrs {
			fields[optionFieldName(fe.Field())] = "failed " + fe.Tag() + " " + fe.Param()
		}
	}

	if f := opts.DateFilter; f.After != nil && f.Before != nil && f.After.After(*f.Before) {
		fields["date_filter"] = "after must not be later than before"
	}
	if source == SourceCSV && strings.TrimSpace(opts.SourceRef) == "" {
		fields["source_ref"] = "is required for CSV imports"
	}

	if len(fields) > 0 {
		for k, v := range fields {
			fields[k] = strings.TrimSpace(v)
		}
		return &ValidationError{Fields: fields}
	}
	return nil
}

func optionFieldName(field string) string {
	switch field {
	case "BatchSize":
		return "batch_size"
	case "SourceRef":
		return "source_ref"
	default:
		return strings.ToLower(field)
	}
}
