package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tradescout/optionrun/internal/artifacts"
	"github.com/tradescout/optionrun/internal/config"
	"github.com/tradescout/optionrun/internal/domain"
	"github.com/tradescout/optionrun/internal/gateway"
	"github.com/tradescout/optionrun/internal/ips"
	"github.com/tradescout/optionrun/internal/persistence"
	"github.com/tradescout/optionrun/internal/persistence/postgres"
	"github.com/tradescout/optionrun/internal/runner"
)

var (
	flagSymbols string
	flagIPS     string
	flagIPSDir  string
	flagMode    string
	flagUser    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one candidate-generation run",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&flagSymbols, "symbols", "", "comma-separated watchlist (e.g. AAPL,MSFT)")
	runCmd.Flags().StringVar(&flagIPS, "ips", "", "IPS id or path to its YAML file")
	runCmd.Flags().StringVar(&flagIPSDir, "ips-dir", "ips", "directory holding IPS YAML files")
	runCmd.Flags().StringVar(&flagMode, "mode", string(domain.ModePaper), "run mode: backtest, paper, live")
	runCmd.Flags().StringVar(&flagUser, "user", "local", "user id for historical retrieval scoping")
	_ = runCmd.MarkFlagRequired("ips")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}

	backend := gateway.NewHTTPBackend(cfg.Providers)
	budget := gateway.NewCallBudget(cfg.Limits.CallBudget, cfg.Limits.BudgetCooldown, gateway.RealClock{})
	cache := gateway.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	gw := gateway.New(backend, cfg.Limits, budget, repo, cache)

	var writer *artifacts.Writer
	if cfg.Artifacts.Enabled {
		writer = artifacts.NewWriter(cfg.Artifacts.Dir, nil)
	}

	ctrl := runner.New(gw, ips.NewRegistry(), ips.NewFileStore(flagIPSDir), repo, cfg.Scoring, writer, nil)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	symbols := splitSymbols(flagSymbols)
	runID, err := ctrl.StartRun(ctx, symbols, domain.RunMode(flagMode), flagIPS, flagUser)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ctrl.CancelRun(runID)
	}()

	for p := range ctrl.Subscribe(runID) {
		log.Info().Str("step", p.CurrentStep).
			Int("completed", p.CompletedSteps).Int("total", p.TotalSteps).
			Msg(p.Message)
	}
	if err := ctrl.Wait(context.Background(), runID); err != nil {
		return err
	}

	view, err := ctrl.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	printRun(view.Run)

	if view.Run.Status == domain.StatusFailed {
		return fmt.Errorf("run %s failed: %s (%s)", runID, view.Run.ErrorMessage, view.Run.ErrorKind)
	}
	return nil
}

func buildRepository(cfg config.Config) (persistence.Repository, error) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("No database DSN configured, using in-memory repository")
		return persistence.NewMemoryRepository(), nil
	}
	return postgres.Open(cfg.Database.DSN, cfg.Database.QueryTimeout)
}

func printRun(run *domain.Run) {
	fmt.Printf("\nRun %s  status=%s  selected=%d  decisions=%d  errors=%d\n\n",
		run.ID, run.Status, len(run.Selected), len(run.Decisions), len(run.Errors))

	for _, d := range run.Decisions {
		fmt.Printf("  [%s] %s: %s\n", d.Checkpoint, d.Decision, d.Reasoning)
	}

	if len(run.Selected) == 0 {
		fmt.Println("\nNo candidates selected.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nSYMBOL\tSTRATEGY\tSHORT\tLONG\tCREDIT\tMAX LOSS\tPOP\tIPS\tCOMPOSITE\tTIER")
	for _, c := range run.Selected {
		short, long := 0.0, 0.0
		if s := c.Short(); s != nil {
			short = s.Contract.Strike
		}
		if l := c.Long(); l != nil {
			long = l.Contract.Strike
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%.0f%%\t%.1f\t%.1f\t%s\n",
			c.Symbol, c.Strategy, short, long, c.EntryMid, c.MaxLoss,
			c.EstPOP*100, c.IPSScore, c.CompositeScore, c.Tier)
	}
	w.Flush()
}

func splitSymbols(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
