package main

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	domain "github.com/restoreworks/crm-migration/internal/domain/migration"
)

func newEstimateCmd() *cobra.Command {
	var contacts, jobs int

	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Print the expected duration of an import",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if contacts < 0 || jobs < 0 {
				return errors.New("--contacts and --jobs must not be negative")
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), domain.EstimateDuration(contacts, jobs))
			return err
		},
	}
	cmd.Flags().IntVar(&contacts, "contacts", 0, "number of contacts to import")
	cmd.Flags().IntVar(&jobs, "jobs", 0, "number of jobs to import")
	return cmd
}
