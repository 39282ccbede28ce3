package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/silver2dream/ticketflow/internal/buildinfo"
	tferrors "github.com/silver2dream/ticketflow/internal/errors"
)

// globalOptions are shared by every subcommand.
type globalOptions struct {
	configPath string
	projectDir string
	logLevel   string
	verbose    bool
}

func (o *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", "", "global config file (default $XDG_CONFIG_HOME/ticketflow/config.yaml)")
	fs.StringVarP(&o.projectDir, "project-dir", "C", "", "repository root (default: current directory)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "shorthand for --log-level=debug")
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "ticketflow",
		Short: "Turn tracker tickets into pull requests with an AI coding agent",
		Long: `ticketflow fetches a Jira ticket, creates a branch, runs a coding agent on it,
commits and pushes the result, opens a pull request, waits for a preview
deployment and reports back on the ticket.

Run it once for a single ticket or as a daemon that polls the project.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	opts.addFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(opts),
		newDaemonCmd(opts),
		newConfigCmd(opts),
		newHistoryCmd(opts),
		newDoctorCmd(opts),
		newVersionCmd(),
	)
	return root
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return tferrors.ExitSuccess
	}

	var silent *silentError
	if !errors.As(err, &silent) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return tferrors.ExitCode(err)
}

// silentError carries an exit status for a failure already reported to the user.
type silentError struct {
	err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }
