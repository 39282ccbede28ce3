package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/silver2dream/ticketflow/internal/history"
	"github.com/silver2dream/ticketflow/internal/worker"
)

type historyOptions struct {
	limit  int
	ticket string
}

func newHistoryCmd(global *globalOptions) *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent ticket runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(cmd.Context(), history.Filter{Limit: opts.limit, Ticket: opts.ticket})
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	fs := cmd.Flags()
	fs.IntVarP(&opts.limit, "limit", "n", 20, "number of runs to show")
	fs.StringVar(&opts.ticket, "ticket", "", "only show runs for this ticket key")
	return cmd
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = cellStyle.Foreground(lipgloss.Color("2"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("1"))
	mutedStyle  = cellStyle.Foreground(lipgloss.Color("3"))
)

func renderHistory(w io.Writer, runs []history.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}

	rows := make([][]string, len(runs))
	for i, r := range runs {
		link := r.PRURL
		if link == "" {
			link = r.Error
		}
		rows[i] = []string{
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.TicketKey,
			outcome(r),
			r.Duration.Round(time.Second).String(),
			link,
		}
	}

	f, isFile := w.(*os.File)
	styled := isFile && term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""

	t := table.New().
		Headers("STARTED", "TICKET", "RESULT", "DURATION", "PR / ERROR").
		Rows(rows...).
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if !styled || col != 2 {
				return cellStyle
			}
			switch {
			case runs[row].Success:
				return okStyle
			case runs[row].Kind == worker.KindNoChanges:
				return mutedStyle
			default:
				return failStyle
			}
		})
	fmt.Fprintln(w, t.Render())
}

func outcome(r history.Run) string {
	if r.Success {
		return "success"
	}
	return string(r.Kind)
}
