package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/silver2dream/ticketflow/internal/doctor"
	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/jira"
)

func newDoctorCmd(global *globalOptions) *cobra.Command {
	var clean, offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that git, gh, the agent and Jira are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			var tracker doctor.Searcher
			if !offline && len(cfg.Validate()) == 0 {
				tracker = jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, cfg.Jira.APIToken, cfg.JiraTimeout())
			}
			d := doctor.New(cfg, tracker)
			results := d.RunAll(cmd.Context())
			out := cmd.OutOrStdout()
			printChecks(out, results)

			if clean {
				cleaned, err := d.Clean(results)
				for _, c := range cleaned {
					fmt.Fprintf(out, "Removed %s\n", c)
				}
				if err != nil {
					return err
				}
			}
			if doctor.HasErrors(results) {
				return &silentError{err: tferrors.NewValidationError("doctor found problems")}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "remove stale state such as a dead daemon's lock file")
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the Jira query")
	return cmd
}

func printChecks(w io.Writer, results []doctor.CheckResult) {
	marks := map[string]string{
		doctor.StatusOK:      okStyle.Render("✓"),
		doctor.StatusWarning: mutedStyle.Render("!"),
		doctor.StatusError:   failStyle.Render("✗"),
	}
	name := lipgloss.NewStyle().Width(14)
	for _, r := range results {
		fmt.Fprintf(w, "%s %s %s\n", marks[r.Status], name.Render(r.Name), r.Message)
	}
}
