package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tradescout/optionrun/internal/config"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect persisted runs",
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Print a persisted run with its decisions and candidates",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsGet,
}

func init() {
	runsCmd.AddCommand(runsGetCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsGet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return fmt.Errorf("runs get requires a database DSN (set database.dsn or OPTIONRUN_DATABASE_DSN)")
	}

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}

	run, err := repo.GetRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printRun(run)
	return nil
}
