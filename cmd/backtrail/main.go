// backtrail — deterministic backtesting for declarative strategies
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seenimoa/backtrail/internal/api"
	"github.com/seenimoa/backtrail/internal/config"
	"github.com/seenimoa/backtrail/internal/engine"
	"github.com/seenimoa/backtrail/internal/feed"
	"github.com/seenimoa/backtrail/internal/indicator"
	"github.com/seenimoa/backtrail/internal/store"
	"github.com/seenimoa/backtrail/internal/strategy"
	"github.com/seenimoa/backtrail/internal/sweep"
	"github.com/seenimoa/backtrail/pkg/logging"
	"github.com/seenimoa/backtrail/pkg/models"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "backtrail",
	Short: "backtrail — deterministic backtesting for declarative strategies",
	Long: `backtrail runs declarative trading strategies against historical
OHLCV bars with deterministic simulation of fills, commission, and
slippage. Strategies are JSON trees of signals, conditions, and rules;
the same strategy and data always produce the same result.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		logging.Initialize(level, cfg.Logging.Format != "json")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("data", "", "bar data directory override")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(indicatorsCmd)
	rootCmd.AddCommand(strategiesCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("backtrail %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run [strategy]",
	Short: "Run a backtest",
	Long: `Run a strategy against historical bars. The strategy argument is
either a builtin name or a path to a strategy JSON file.

Examples:
  backtrail run buy_and_hold --symbols RELIANCE
  backtrail run sma_crossover --symbols RELIANCE --param fast=20 --param slow=100
  backtrail run my_strategy.json --symbols RELIANCE,TCS --save`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols, _ := cmd.Flags().GetStringSlice("symbols")
		paramFlags, _ := cmd.Flags().GetStringArray("param")
		capital, _ := cmd.Flags().GetFloat64("capital")
		save, _ := cmd.Flags().GetBool("save")

		strat, err := resolveStrategy(args[0], symbols)
		if err != nil {
			return err
		}
		overrides, err := parseParams(paramFlags)
		if err != nil {
			return err
		}
		data, err := loadData(cmd, symbols, strat)
		if err != nil {
			return err
		}

		ecfg := engine.FromSettings(cfg.Engine)
		if capital > 0 {
			ecfg.InitialCapital = capital
		}
		eng, err := engine.NewEngine(ecfg)
		if err != nil {
			return err
		}

		if len(data) == 1 {
			var symbol string
			for sym := range data {
				symbol = sym
			}
			result, err := eng.Run(strat, symbol, data[symbol], overrides)
			if err != nil {
				return err
			}
			printResult(result)
			return saveResult(save, func(s *store.Store) (int64, error) { return s.SaveResult(result) })
		}

		result, err := eng.RunPortfolio(strat, data, overrides)
		if err != nil {
			return err
		}
		printPortfolioResult(result)
		return saveResult(save, func(s *store.Store) (int64, error) { return s.SavePortfolioResult(result) })
	},
}

func init() {
	runCmd.Flags().StringSlice("symbols", nil, "symbols to run against (default: strategy universe)")
	runCmd.Flags().StringArray("param", nil, "parameter override, name=value (repeatable)")
	runCmd.Flags().Float64("capital", 0, "initial capital override")
	runCmd.Flags().Bool("save", false, "persist the result to the run store")
}

// --- Sweep Command ---

var sweepCmd = &cobra.Command{
	Use:   "sweep [strategy]",
	Short: "Run a parameter sweep",
	Long: `Run a strategy once per combination of a parameter grid against a
single symbol, in parallel, and rank the outcomes by total return.

Examples:
  backtrail sweep sma_crossover --symbols RELIANCE --grid fast=10,20,50 --grid slow=100,200`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols, _ := cmd.Flags().GetStringSlice("symbols")
		gridFlags, _ := cmd.Flags().GetStringArray("grid")

		strat, err := resolveStrategy(args[0], symbols)
		if err != nil {
			return err
		}
		grid, err := parseGrid(gridFlags)
		if err != nil {
			return err
		}
		data, err := loadData(cmd, symbols, strat)
		if err != nil {
			return err
		}
		if len(data) != 1 {
			return fmt.Errorf("sweep needs exactly one symbol, got %d", len(data))
		}
		var symbol string
		for sym := range data {
			symbol = sym
		}

		outcomes, err := sweep.Run(engine.FromSettings(cfg.Engine), strat, symbol, data[symbol], grid, cfg.Sweep.MaxConcurrent)
		if err != nil {
			return err
		}

		fmt.Printf("═══ Sweep: %s on %s — %d combinations ═══\n", strat.Info.ID, symbol, len(outcomes))
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("  %-40s  ERROR: %v\n", formatParams(o.Params), o.Err)
				continue
			}
			fmt.Printf("  %-40s  return %8.2f%%  trades %3d  maxDD %6.2f%%\n",
				formatParams(o.Params),
				o.Result.Metrics.TotalReturnPct,
				o.Result.Metrics.TotalTrades,
				o.Result.Metrics.MaxDrawdownPct)
		}
		if best := sweep.Best(outcomes); best != nil {
			fmt.Printf("\nBest: %s (%.2f%%)\n", formatParams(best.Params), best.Result.Metrics.TotalReturnPct)
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().StringSlice("symbols", nil, "symbol to sweep against")
	sweepCmd.Flags().StringArray("grid", nil, "parameter grid, name=v1,v2,v3 (repeatable)")
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening run store: %w", err)
		}
		defer st.Close()

		srv := api.NewServer(cfg, st)
		addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
		return srv.ListenAndServe(addr)
	},
}

// --- Indicators Command ---

var indicatorsCmd = &cobra.Command{
	Use:   "indicators",
	Short: "List the built-in indicator library",
	Run: func(cmd *cobra.Command, args []string) {
		reg := indicator.Default()
		for _, name := range reg.Names() {
			def, _ := reg.Lookup(name)
			var params []string
			for _, p := range def.Params {
				params = append(params, fmt.Sprintf("%s=%g", p.Name, p.Default))
			}
			line := fmt.Sprintf("  %-12s (%s)", def.Name, strings.Join(params, ", "))
			if len(def.Components) > 0 {
				line += "  components: " + strings.Join(def.Components, ", ")
			}
			fmt.Println(line)
		}
	},
}

// --- Strategies Command ---

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the built-in strategy catalog",
	Run: func(cmd *cobra.Command, args []string) {
		for _, name := range strategy.BuiltinNames() {
			s, _ := strategy.Builtin(name)
			fmt.Printf("  %-20s %s\n", name, s.Info.Name)
		}
	},
}

// ════════════════════════════════════════════════════════════════════
// Helpers
// ════════════════════════════════════════════════════════════════════

// resolveStrategy loads the argument as a builtin name first, then as a
// strategy file path.
func resolveStrategy(arg string, symbols []string) (*models.Strategy, error) {
	if strat, ok := strategy.Builtin(arg, symbols...); ok {
		return strat, nil
	}
	if _, err := os.Stat(arg); err == nil {
		return strategy.Load(arg)
	}
	return nil, fmt.Errorf("%q is neither a builtin strategy (%s) nor a file",
		arg, strings.Join(strategy.BuiltinNames(), ", "))
}

// loadData loads bars for the requested symbols, falling back to the
// strategy's static universe, then to the whole data directory.
func loadData(cmd *cobra.Command, symbols []string, strat *models.Strategy) (map[string][]models.Bar, error) {
	dir := cfg.Data.Dir
	if override, _ := cmd.Flags().GetString("data"); override != "" {
		dir = override
	}

	if len(symbols) == 0 && strat.Universe != nil && strat.Universe.Type == models.UniverseStatic {
		symbols = strat.Universe.Symbols
	}
	if len(symbols) == 0 {
		return feed.LoadDir(dir)
	}

	data := make(map[string][]models.Bar, len(symbols))
	for _, sym := range symbols {
		bars, err := feed.LoadFile(sym, filepath.Join(dir, sym+".csv"))
		if err != nil {
			return nil, err
		}
		data[sym] = bars
	}
	return data, nil
}

func parseParams(flags []string) (map[string]float64, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(flags))
	for _, f := range flags {
		name, val, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("bad --param %q, want name=value", f)
		}
		v, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad --param value %q: %v", val, err)
		}
		out[name] = v
	}
	return out, nil
}

func parseGrid(flags []string) (sweep.Grid, error) {
	grid := make(sweep.Grid, len(flags))
	for _, f := range flags {
		name, vals, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("bad --grid %q, want name=v1,v2,v3", f)
		}
		for _, s := range strings.Split(vals, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("bad --grid value %q: %v", s, err)
			}
			grid[name] = append(grid[name], v)
		}
	}
	return grid, nil
}

func formatParams(params map[string]float64) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, params[k])
	}
	return strings.Join(parts, " ")
}

func saveResult(save bool, fn func(*store.Store) (int64, error)) error {
	if !save {
		return nil
	}
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer st.Close()

	id, err := fn(st)
	if err != nil {
		return err
	}
	fmt.Printf("\nSaved as run %d\n", id)
	return nil
}

func printResult(r *models.BacktestResult) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  %s on %s\n", r.StrategyName, r.Symbol)
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Period:         %s — %s\n", r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	fmt.Printf("  Capital:        %.2f → %.2f\n", r.InitialCapital, r.FinalEquity)
	printMetrics(r.Metrics)
	fmt.Println("═══════════════════════════════════════")
}

func printPortfolioResult(r *models.PortfolioResult) {
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  %s on %s\n", r.StrategyName, strings.Join(r.Symbols, ", "))
	fmt.Println("═══════════════════════════════════════")
	fmt.Printf("  Period:         %s — %s\n", r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	fmt.Printf("  Capital:        %.2f → %.2f\n", r.InitialCapital, r.FinalEquity)
	fmt.Printf("  Weights:        %s, rebalanced %s (%d events, avg turnover %.2f%%)\n",
		r.WeightScheme, r.RebalanceFreq, r.RebalanceCount, r.AverageTurnover*100)
	printMetrics(r.Metrics)
	fmt.Println("═══════════════════════════════════════")
}

func printMetrics(m *models.PerformanceMetrics) {
	if m == nil {
		return
	}
	fmt.Printf("  Total Return:   %.2f%%\n", m.TotalReturnPct)
	fmt.Printf("  CAGR:           %.2f%%\n", m.CAGR)
	fmt.Printf("  Sharpe:         %.2f   Sortino: %.2f\n", m.SharpeRatio, m.SortinoRatio)
	fmt.Printf("  Max Drawdown:   %.2f%%\n", m.MaxDrawdownPct)
	fmt.Printf("  Trades:         %d (win rate %.1f%%, profit factor %.2f)\n",
		m.TotalTrades, m.WinRate, m.ProfitFactor)
	fmt.Printf("  Costs:          commission %.2f, slippage %.2f\n", m.TotalCommission, m.TotalSlippage)
}
