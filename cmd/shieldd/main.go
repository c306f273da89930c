// Package main is the CLI entry point for shieldd.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quietloop/shieldd/internal/daemon"
	"github.com/quietloop/shieldd/internal/domain"
	"github.com/quietloop/shieldd/internal/infra"
	"github.com/quietloop/shieldd/internal/policy"
	"github.com/quietloop/shieldd/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shieldd",
	Short: "Screen-time shielding daemon",
	Long: `shieldd blocks selected apps once their daily usage budget is exceeded
and lets users earn temporary bonus minutes.

Two processes cooperate through a shared encrypted store: the resident
foreground app ('shieldd app') and a short-lived background handler the
OS launches per monitoring event ('shieldd handle').`,
	Version: Version,
}

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Run the foreground app loop",
	Long: `Runs the resident foreground process: reconciles state on start,
registers usage thresholds for every active limit, re-enforces shields
periodically and re-reads shared state whenever a wake signal arrives.`,
	RunE: runApp,
}

var handleCmd = &cobra.Command{
	Use:   "handle",
	Short: "Handle one monitoring event (background process entry point)",
	Long: `The short-lived background process. Dispatches exactly one
interval/threshold event against shared state and exits. Always exits
zero: failures degrade to logged no-ops so the platform never penalizes
the callback path.`,
	Run: runHandle,
}

var limitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Manage time limits",
}

var limitAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a time limit",
	RunE:  runLimitAdd,
}

var limitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all time limits",
	RunE:  runLimitList,
}

var limitEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Activate a limit",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setLimitActive(args[0], true) },
}

var limitDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Deactivate a limit",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setLimitActive(args[0], false) },
}

var limitRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a limit",
	Args:  cobra.ExactArgs(1),
	RunE:  runLimitRemove,
}

var bonusCmd = &cobra.Command{
	Use:   "bonus <minutes>",
	Short: "Credit earned bonus minutes",
	Args:  cobra.ExactArgs(1),
	RunE:  runBonus,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current blocking state",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("shieldd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

var (
	dataDir string
	noDBus  bool

	handleKind     string
	handleEventID  string
	handleActivity string

	limitName       string
	limitBudget     int
	limitKind       string
	limitApps       []string
	limitCategories []string
	limitStartTOD   string
	limitEndTOD     string
	limitDays       []string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Shared data directory")
	rootCmd.PersistentFlags().BoolVar(&noDBus, "no-dbus", false, "Disable the cross-process wake signal")

	handleCmd.Flags().StringVar(&handleKind, "kind", "", "Event kind (intervalStart/intervalEnd/thresholdReached/thresholdWarning)")
	handleCmd.Flags().StringVar(&handleEventID, "event", "", "Threshold event id")
	handleCmd.Flags().StringVar(&handleActivity, "activity", "", "Monitored activity name")

	limitAddCmd.Flags().StringVar(&limitName, "name", "", "Display name")
	limitAddCmd.Flags().IntVar(&limitBudget, "budget", 60, "Daily budget in minutes")
	limitAddCmd.Flags().StringVar(&limitKind, "kind", string(domain.LimitDaily), "Limit kind (daily/scheduled)")
	limitAddCmd.Flags().StringSliceVar(&limitApps, "apps", nil, "App tokens to block")
	limitAddCmd.Flags().StringSliceVar(&limitCategories, "categories", nil, "Category tokens to block")
	limitAddCmd.Flags().StringVar(&limitStartTOD, "start", "", "Schedule start (HH:MM, scheduled limits)")
	limitAddCmd.Flags().StringVar(&limitEndTOD, "end", "", "Schedule end (HH:MM, scheduled limits)")
	limitAddCmd.Flags().StringSliceVar(&limitDays, "days", nil, "Schedule weekdays (Mon..Sun, scheduled limits)")

	limitCmd.AddCommand(limitAddCmd, limitListCmd, limitEnableCmd, limitDisableCmd, limitRemoveCmd)
	rootCmd.AddCommand(appCmd, handleCmd, limitCmd, bonusCmd, statusCmd, versionCmd)
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "shieldd")
	}
	return "/var/tmp/shieldd"
}

// env bundles the wired components both process roles share.
type env struct {
	db          *infra.Database
	state       *infra.KVStore
	scheduler   *infra.StoreScheduler
	limits      *policy.LimitStore
	shield      *usecase.ShieldController
	bonus       *usecase.BonusPool
	coordinator *usecase.Coordinator
	notifier    domain.Notifier
	pm          domain.ProcessManager
	logger      *zap.Logger
}

func (e *env) close() {
	if c, ok := e.notifier.(*infra.DBusNotifier); ok {
		_ = c.Close()
	}
	_ = e.db.Close()
	_ = e.logger.Sync()
}

func buildEnv(background bool) (*env, error) {
	logger := createLogger(background)

	keys := infra.NewFileKeyProvider(dataDir)
	key, err := keys.EnsureKey()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain store key: %w", err)
	}

	db, err := infra.OpenDatabase(dataDir, key)
	if err != nil {
		return nil, err
	}

	var notifier domain.Notifier = infra.NoopNotifier{}
	if !noDBus {
		if dn, err := infra.NewDBusNotifier(logger); err == nil {
			notifier = dn
		} else {
			logger.Warn("session bus unavailable, wake signals disabled", zap.Error(err))
		}
	}

	pm := infra.NewProcessManager()
	state := infra.NewKVStore(db)
	scheduler := infra.NewStoreScheduler(db)
	limits := policy.NewLimitStore(db)
	shield := usecase.NewShieldController(infra.NewProcessShieldAPI(pm, logger), state, logger)
	bonus := usecase.NewBonusPool(state, scheduler, shield, logger)
	coordinator := usecase.NewCoordinator(state, limits, scheduler, shield, bonus, logger)

	return &env{
		db:          db,
		state:       state,
		scheduler:   scheduler,
		limits:      limits,
		shield:      shield,
		bonus:       bonus,
		coordinator: coordinator,
		notifier:    notifier,
		pm:          pm,
		logger:      logger,
	}, nil
}

func runApp(cmd *cobra.Command, args []string) error {
	e, err := buildEnv(true)
	if err != nil {
		return err
	}
	defer e.close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		e.logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := daemon.DefaultAppConfig()
	cfg.WatchWakeSignals = !noDBus

	app := daemon.NewApp(cfg, e.coordinator, e.state, e.pm, e.logger)
	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func runHandle(cmd *cobra.Command, args []string) {
	// The background callback path must never fail the process: a
	// broken environment degrades to a logged no-op and exit 0.
	e, err := buildEnv(true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "handler environment unavailable: %v\n", err)
		return
	}
	defer e.close()

	kind := domain.EventKind(handleKind)
	switch kind {
	case domain.EventIntervalStart, domain.EventIntervalEnd,
		domain.EventThresholdReached, domain.EventThresholdWarning:
	default:
		e.logger.Error("unknown event kind", zap.String("kind", handleKind))
		return
	}

	handler := usecase.NewCallbackHandler(e.state, e.shield, e.bonus, e.notifier, e.logger)
	handler.Handle(domain.MonitorEvent{
		Kind:     kind,
		EventID:  handleEventID,
		Activity: handleActivity,
	})
}

func runLimitAdd(cmd *cobra.Command, args []string) error {
	e, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	if limitName == "" {
		return fmt.Errorf("--name is required")
	}
	if len(limitApps) == 0 && len(limitCategories) == 0 {
		return fmt.Errorf("at least one of --apps or --categories is required")
	}

	limit := domain.TimeLimit{
		DisplayName:        limitName,
		Kind:               domain.LimitKind(limitKind),
		DailyBudgetMinutes: limitBudget,
		IsActive:           true,
		AppTokens:          tokensFrom(limitApps),
		CategoryTokens:     tokensFrom(limitCategories),
	}

	if limit.Kind == domain.LimitScheduled {
		window, err := parseScheduleFlags()
		if err != nil {
			return err
		}
		limit.Schedule = window
	} else if limit.Kind != domain.LimitDaily {
		return fmt.Errorf("unknown limit kind: %s", limitKind)
	}

	if err := e.limits.Create(cmd.Context(), &limit); err != nil {
		return err
	}

	// Project the new limit immediately so a threshold can fire for it
	// before the app process next restarts monitoring.
	if err := e.coordinator.StartMonitoring(cmd.Context()); err != nil {
		e.logger.Warn("limit saved but monitoring refresh failed", zap.Error(err))
	}

	fmt.Printf("Added limit %s (%s, %d min/day)\n", limit.ID, limit.DisplayName, limit.DailyBudgetMinutes)
	return nil
}

func runLimitList(cmd *cobra.Command, args []string) error {
	e, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	limits, err := e.limits.ListAll(cmd.Context())
	if err != nil {
		return err
	}

	if len(limits) == 0 {
		fmt.Println("No limits configured.")
		return nil
	}

	for _, l := range limits {
		active := "inactive"
		if l.IsActive {
			active = "active"
		}
		fmt.Printf("[%s] %s (%s, %s, %d min/day)\n", l.ID, l.DisplayName, l.Kind, active, l.DailyBudgetMinutes)
		if len(l.AppTokens) > 0 {
			fmt.Printf("  apps:       %s\n", strings.Join(l.AppTokens.Sorted(), ", "))
		}
		if len(l.CategoryTokens) > 0 {
			fmt.Printf("  categories: %s\n", strings.Join(l.CategoryTokens.Sorted(), ", "))
		}
		if l.Schedule != nil {
			fmt.Printf("  window:     %s-%s\n", formatTOD(l.Schedule.StartMinute), formatTOD(l.Schedule.EndMinute))
		}
	}
	return nil
}

func setLimitActive(id string, active bool) error {
	e, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	limit, err := e.limits.GetByID(ctx, id)
	if err != nil {
		return err
	}
	limit.IsActive = active
	if err := e.limits.Update(ctx, limit); err != nil {
		return err
	}
	if err := e.coordinator.StartMonitoring(ctx); err != nil {
		e.logger.Warn("limit updated but monitoring refresh failed", zap.Error(err))
	}

	state := "disabled"
	if active {
		state = "enabled"
	}
	fmt.Printf("Limit %s %s\n", id, state)
	return nil
}

func runLimitRemove(cmd *cobra.Command, args []string) error {
	e, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.limits.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	if err := e.coordinator.StartMonitoring(cmd.Context()); err != nil {
		e.logger.Warn("limit removed but monitoring refresh failed", zap.Error(err))
	}
	fmt.Printf("Limit %s removed\n", args[0])
	return nil
}

func runBonus(cmd *cobra.Command, args []string) error {
	e, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	var minutes int
	if _, err := fmt.Sscanf(args[0], "%d", &minutes); err != nil {
		return fmt.Errorf("invalid minutes: %q", args[0])
	}

	if err := e.coordinator.CreditBonus(cmd.Context(), minutes); err != nil {
		return err
	}
	fmt.Printf("Credited %d bonus minutes (pool: %d)\n", minutes, e.bonus.Minutes())
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := buildEnv(false)
	if err != nil {
		return err
	}
	defer e.close()

	ui, err := e.coordinator.Reconcile(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println("=== shieldd Status ===")

	appRunning := false
	if pid, ok, _ := e.state.GetInt(domain.KeyAppProcessPID); ok {
		appRunning = e.pm.IsRunning(pid)
		if appRunning {
			fmt.Printf("App process:   running (pid %d)\n", pid)
		} else {
			fmt.Println("App process:   not running")
		}
	} else {
		fmt.Println("App process:   never started")
	}

	fmt.Printf("Active limits: %d\n", ui.ActiveLimitsCount)
	fmt.Printf("Bonus minutes: %d\n", ui.BonusMinutes)
	if ui.ShieldsActive {
		fmt.Printf("Shields:       ACTIVE (%d apps, %d categories)\n",
			ui.BlockedAppsCount, ui.BlockedCategoriesCount)
	} else {
		fmt.Println("Shields:       inactive")
	}

	regs, err := e.scheduler.List()
	if err == nil && len(regs) > 0 {
		fmt.Println("Monitored activities:")
		for _, r := range regs {
			fmt.Printf("  %s (%d thresholds)\n", r.Activity, len(r.Events))
		}
	}

	fmt.Println("======================")
	return nil
}

func tokensFrom(raw []string) domain.TokenSet {
	ts := domain.NewTokenSet()
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r != "" {
			ts.Add(domain.Token(r))
		}
	}
	return ts
}

func parseScheduleFlags() (*domain.ScheduleWindow, error) {
	start, err := parseTOD(limitStartTOD)
	if err != nil {
		return nil, fmt.Errorf("invalid --start: %w", err)
	}
	end, err := parseTOD(limitEndTOD)
	if err != nil {
		return nil, fmt.Errorf("invalid --end: %w", err)
	}

	days, err := parseDays(limitDays)
	if err != nil {
		return nil, err
	}

	return &domain.ScheduleWindow{StartMinute: start, EndMinute: end, DaysOfWeek: days}, nil
}

func parseTOD(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatTOD(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

func parseDays(raw []string) ([]time.Weekday, error) {
	if len(raw) == 0 {
		// Default: every day.
		return []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		}, nil
	}
	var days []time.Weekday
	for _, r := range raw {
		name := strings.ToLower(strings.TrimSpace(r))
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday: %q", r)
		}
		days = append(days, d)
	}
	return days, nil
}

func createLogger(background bool) *zap.Logger {
	if !background {
		logger, _ := zap.NewDevelopment()
		return logger
	}

	config := zap.NewProductionConfig()
	config.OutputPaths = []string{filepath.Join(dataDir, "shieldd.log")}
	config.ErrorOutputPaths = []string{filepath.Join(dataDir, "shieldd.error.log")}
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		// Fallback to stdout if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}
