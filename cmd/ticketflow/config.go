package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/silver2dream/ticketflow/internal/config"
)

func newConfigCmd(global *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect and validate configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a project config template to the repository root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root := global.projectDir
			if root == "" {
				root = "."
			}
			path, err := config.WriteTemplate(root, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Put credentials in %s or JIRA_* environment variables.\n", config.GlobalPath())
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing project config")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration (secrets redacted)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			data, err := cfg.Redacted().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the merged configuration for missing or invalid values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return err
			}
			return reportValidation(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd, validateCmd)
	return cmd
}

func reportValidation(w io.Writer, cfg *config.Config) error {
	errs := cfg.Validate()
	if len(errs) == 0 {
		fmt.Fprintln(w, "Configuration is valid.")
		return nil
	}
	for _, e := range errs {
		fmt.Fprintf(w, "  - %s\n", e.Error())
	}
	return &silentError{err: cfg.Check()}
}
