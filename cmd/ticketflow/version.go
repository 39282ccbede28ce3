package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/silver2dream/ticketflow/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ticketflow %s (%s, %s/%s)\n",
				buildinfo.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
