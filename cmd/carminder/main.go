// Carminder is a daemon that schedules vehicle maintenance reminders and
// delivers notifications when they come due: by calendar date, by odometer
// reading, or on a repeating monthly period.
//
// Usage:
//
//	carminder daemon [--config <path>]        # run the scheduling daemon
//	carminder boot [--config <path>]          # one recovery pass, then exit
//	carminder add --vehicle <id> --title ...  # create a reminder
//	carminder list [--vehicle <id>] [--done]  # list reminders
//	carminder done <id>                       # complete a reminder
//	carminder postpone <id>                   # push a date reminder back a week
//	carminder rm <id>                         # delete a reminder
//	carminder vehicle --name <name> [--km n]  # create or update a vehicle
//	carminder odo --vehicle <id> --km <n>     # record an odometer reading
//	carminder status                          # show config & database state
//	carminder version                         # print version
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"carminder/internal/config"
	"carminder/internal/engine"
	"carminder/internal/model"
	"carminder/internal/notify"
	"carminder/internal/store"
	"carminder/internal/telemetry"
	"carminder/internal/timer"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// run dispatches to the appropriate subcommand.
func run() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "daemon":
		return runDaemon(args)
	case "boot":
		return runBoot(args)
	case "add":
		return runAdd(args)
	case "list":
		return runList(args)
	case "done":
		return runDone(args)
	case "postpone":
		return runPostpone(args)
	case "rm":
		return runRemove(args)
	case "vehicle":
		return runVehicle(args)
	case "odo":
		return runOdo(args)
	case "status":
		return runStatus()
	case "version":
		fmt.Println("carminder", version)
		return nil
	}

	return fmt.Errorf("unknown command %q — run 'carminder' for usage", cmd)
}

// printUsage shows help and hints at the config location.
func printUsage() error {
	cfgPath, _ := config.DefaultPath()
	_, cfgErr := os.Stat(cfgPath)

	fmt.Fprintln(os.Stderr, "Carminder — vehicle maintenance reminders")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  carminder daemon [--config ...]        Run the scheduling daemon")
	fmt.Fprintln(os.Stderr, "  carminder boot [--config ...]          One recovery pass, then exit")
	fmt.Fprintln(os.Stderr, "  carminder add --vehicle <id> ...       Create a reminder")
	fmt.Fprintln(os.Stderr, "  carminder list [--vehicle <id>]        List reminders")
	fmt.Fprintln(os.Stderr, "  carminder done <id>                    Complete a reminder")
	fmt.Fprintln(os.Stderr, "  carminder postpone <id>                Push a date reminder back a week")
	fmt.Fprintln(os.Stderr, "  carminder rm <id>                      Delete a reminder")
	fmt.Fprintln(os.Stderr, "  carminder vehicle --name <name> ...    Create or update a vehicle")
	fmt.Fprintln(os.Stderr, "  carminder odo --vehicle <id> --km <n>  Record an odometer reading")
	fmt.Fprintln(os.Stderr, "  carminder status                       Show config & database state")
	fmt.Fprintln(os.Stderr, "  carminder version                      Print version")
	fmt.Fprintln(os.Stderr, "")

	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "No config file found at %s — defaults apply.\n", cfgPath)
	}

	os.Exit(1)
	return nil // unreachable
}

// --- Shared wiring -----------------------------------------------------------

// app bundles the pieces every command needs: config, store, timer registry,
// and the engine wired up around them.
type app struct {
	cfg      *config.Config
	store    *store.Store
	registry *timer.Registry
	engine   *engine.Engine
	sink     engine.NotificationSink
	log      *slog.Logger
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("closing database", "error", err)
	}
}

// commonFlags registers --config and --verbose on every subcommand FlagSet.
func commonFlags(fs *flag.FlagSet) (cfgPath *string, verbose *bool) {
	defaultCfg, _ := config.DefaultPath()
	cfgPath = fs.String("config", defaultCfg, "path to config.yaml")
	verbose = fs.Bool("verbose", false, "enable debug logging")
	return cfgPath, verbose
}

// openApp loads config, opens the database, and wires the engine with a local
// log sink. Daemon mode swaps in the Home Assistant sink itself.
func openApp(cfgPath string, verbose bool) (*app, error) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database at %q: %w", cfg.DBPath, err)
	}

	registry := timer.New(timer.Options{
		SupportsExact: cfg.ExactTimersValue(),
	}, logger)

	var sink engine.NotificationSink = notify.NewLogSink(logger)
	if cfg.HomeAssistant != nil {
		haSink, err := notify.NewHASink(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token,
			cfg.HomeAssistant.NotifyService, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("initialising Home Assistant sink: %w", err)
		}
		sink = haSink
	}

	eng := engine.New(st, st, registry, registry.Fires(), sink, nil, engine.Config{
		NotifyHour:     cfg.NotifyHourValue(),
		LeadDays:       cfg.LeadDays,
		WarnBandsKm:    cfg.WarnBandsKm,
		PollInterval:   cfg.PollInterval,
		RescanInterval: cfg.RescanInterval,
		ExactTimers:    cfg.ExactTimersValue(),
	}, logger)

	return &app{cfg: cfg, store: st, registry: registry, engine: eng, sink: sink, log: logger}, nil
}

// loadConfig reads the config file, falling back to defaults when the file at
// the default location does not exist. An explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	defaultCfg, _ := config.DefaultPath()
	if _, err := os.Stat(path); err != nil && path == defaultCfg {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", path, err)
	}
	return cfg, nil
}

// --- Daemon ------------------------------------------------------------------

// runDaemon wires everything up and blocks until SIGTERM/SIGINT.
func runDaemon(args []string) error {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()
	logger := app.log

	// --- Telemetry (optional) ------------------------------------------------

	if app.cfg.Telemetry != nil {
		telCfg := telemetry.Config{
			OTLPEndpoint: app.cfg.Telemetry.OTLPEndpoint,
			Insecure:     app.cfg.Telemetry.Insecure,
			ServiceName:  app.cfg.Telemetry.ServiceName,
			Headers:      app.cfg.Telemetry.Headers,
		}
		shutdownTel, err := telemetry.Setup(context.Background(), telCfg)
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", app.cfg.Telemetry.OTLPEndpoint)
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// --- Notification sink connectivity check --------------------------------

	if haSink, ok := app.sink.(*notify.HASink); ok {
		logger.Info("pinging Home Assistant…", "url", app.cfg.HomeAssistant.URL)
		if err := haSink.Ping(ctx); err != nil {
			return fmt.Errorf("connecting to Home Assistant at %q: %w", app.cfg.HomeAssistant.URL, err)
		}
		logger.Info("Home Assistant reachable")
	}

	// --- Timer loop + engine -------------------------------------------------

	go func() {
		if err := app.registry.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("timer loop exited", "error", err)
		}
	}()

	logger.Info("daemon starting", "rescan_interval", app.cfg.RescanInterval)
	if err := app.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("engine: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// --- One-shot commands -------------------------------------------------------

// runBoot performs a single recovery pass and reports what it would schedule.
// Useful after editing the database directly, and as a startup sanity check.
func runBoot(args []string) error {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	n, err := app.engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery pass: %w", err)
	}
	fmt.Printf("%d reminder(s) scheduled, %d wake-up(s) registered\n", n, app.registry.Len())
	return nil
}

// runAdd creates a reminder.
func runAdd(args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	vehicleID := fs.Int64("vehicle", 0, "vehicle id")
	title := fs.String("title", "", "reminder title")
	kind := fs.String("kind", "date", "reminder kind: date, mileage, or periodic")
	date := fs.String("date", "", "target date, YYYY-MM-DD (date and periodic kinds)")
	mileage := fs.Int("mileage", 0, "target odometer reading in km (mileage kind)")
	period := fs.Int("period", 0, "repeat period in months (periodic kind)")
	leads := fs.String("lead", "", "comma-separated lead days override, e.g. 14,7,0")
	kmBefore := fs.Int("km-before", 0, "warn threshold in km before target mileage")
	note := fs.String("note", "", "free-text note")
	if err := fs.Parse(args); err != nil {
		return err
	}

	k, err := model.ParseKind(*kind)
	if err != nil {
		return err
	}
	if *title == "" {
		return errors.New("--title is required")
	}
	if *vehicleID == 0 {
		return errors.New("--vehicle is required")
	}

	r := &model.Reminder{
		VehicleID: *vehicleID,
		Title:     *title,
		Kind:      k,
		Note:      *note,
	}
	if *date != "" {
		t, err := time.ParseInLocation("2006-01-02", *date, time.Local)
		if err != nil {
			return fmt.Errorf("parsing --date: %w", err)
		}
		r.TargetDate = &t
	}
	if *mileage > 0 {
		r.TargetMileage = mileage
	}
	if *period > 0 {
		r.PeriodMonths = period
	}
	if *kmBefore > 0 {
		r.NotifyKmBefore = *kmBefore
	}
	if *leads != "" {
		days, err := model.ParseLeadDays(*leads)
		if err != nil {
			return fmt.Errorf("parsing --lead: %w", err)
		}
		r.NotifyDaysBefore = days
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()

	ctx := context.Background()
	if err := app.engine.CreateReminder(ctx, r); err != nil {
		return err
	}
	fmt.Printf("reminder %d created: %s\n", r.ID, r.Title)
	return nil
}

// runList prints reminders, optionally filtered by vehicle or completion.
func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	vehicleID := fs.Int64("vehicle", 0, "restrict to one vehicle")
	showDone := fs.Bool("done", false, "show completed reminders instead of active")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()
	ctx := context.Background()

	var reminders []*model.Reminder
	switch {
	case *showDone && *vehicleID != 0:
		reminders, err = app.store.ListCompleted(ctx, *vehicleID)
	case *vehicleID != 0:
		reminders, err = app.store.ListActive(ctx, *vehicleID)
	default:
		reminders, err = app.store.ListAllActive(ctx)
	}
	if err != nil {
		return err
	}

	if len(reminders) == 0 {
		fmt.Println("no reminders")
		return nil
	}
	now := time.Now()
	for _, r := range reminders {
		mileage, _ := app.store.CurrentMileage(ctx, r.VehicleID)
		fmt.Printf("%4d  [%-8s] %-30s %s\n", r.ID, r.Kind, r.Title, r.Status(mileage, now))
	}
	return nil
}

// runDone completes a reminder by id.
func runDone(args []string) error {
	return withReminderID("done", args, func(ctx context.Context, app *app, id int64) error {
		if err := app.engine.CompleteReminder(ctx, id); err != nil {
			return err
		}
		fmt.Printf("reminder %d completed\n", id)
		return nil
	})
}

// runPostpone pushes a date reminder back by a week.
func runPostpone(args []string) error {
	return withReminderID("postpone", args, func(ctx context.Context, app *app, id int64) error {
		if err := app.engine.PostponeReminder(ctx, id); err != nil {
			return err
		}
		r, err := app.store.Get(ctx, id)
		if err == nil && r != nil && r.TargetDate != nil {
			fmt.Printf("reminder %d postponed to %s\n", id, r.TargetDate.Format("2006-01-02"))
		} else {
			fmt.Printf("reminder %d postponed\n", id)
		}
		return nil
	})
}

// runRemove deletes a reminder by id.
func runRemove(args []string) error {
	return withReminderID("rm", args, func(ctx context.Context, app *app, id int64) error {
		if err := app.engine.DeleteReminder(ctx, id); err != nil {
			return err
		}
		fmt.Printf("reminder %d removed\n", id)
		return nil
	})
}

// withReminderID is the shared skeleton for commands taking a single
// positional reminder id.
func withReminderID(name string, args []string, fn func(context.Context, *app, int64) error) error {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: carminder %s <reminder-id>", name)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid reminder id %q", fs.Arg(0))
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()

	return fn(context.Background(), app, id)
}

// runVehicle creates or updates a vehicle record. Without --id a new vehicle
// is inserted and its assigned id printed.
func runVehicle(args []string) error {
	fs := flag.NewFlagSet("vehicle", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	id := fs.Int64("id", 0, "vehicle id to update (omit to create)")
	name := fs.String("name", "", "vehicle name")
	km := fs.Int("km", 0, "odometer reading")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()

	v := &model.Vehicle{ID: *id, Name: *name, CurrentMileage: *km}
	if err := app.store.UpsertVehicle(context.Background(), v); err != nil {
		return err
	}
	fmt.Printf("vehicle %d saved: %s (%d km)\n", v.ID, v.Name, v.CurrentMileage)
	return nil
}

// runOdo records an odometer reading and immediately re-evaluates the
// vehicle's mileage reminders, so a reading past a target completes the
// reminder without waiting for the daily poll.
func runOdo(args []string) error {
	fs := flag.NewFlagSet("odo", flag.ExitOnError)
	cfgPath, verbose := commonFlags(fs)
	vehicleID := fs.Int64("vehicle", 0, "vehicle id")
	km := fs.Int("km", 0, "odometer reading in km")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *vehicleID == 0 || *km <= 0 {
		return errors.New("--vehicle and --km are required")
	}

	app, err := openApp(*cfgPath, *verbose)
	if err != nil {
		return err
	}
	defer app.close()
	ctx := context.Background()

	if err := app.store.SetMileage(ctx, *vehicleID, *km); err != nil {
		return err
	}
	if err := app.engine.CheckMileage(ctx, *vehicleID); err != nil {
		return err
	}
	fmt.Printf("vehicle %d odometer set to %d km\n", *vehicleID, *km)
	return nil
}

// runStatus prints the current configuration and database state.
func runStatus() error {
	cfgPath, _ := config.DefaultPath()

	fmt.Println("Carminder Status")
	fmt.Println("────────────────")

	// Config state.
	var cfg *config.Config
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		if loaded, loadErr := config.Load(cfgPath); loadErr == nil {
			cfg = loaded
			fmt.Printf("  Config:    %s ✓\n", cfgPath)
		} else {
			fmt.Printf("  Config:    %s (invalid: %v)\n", cfgPath, loadErr)
		}
	} else {
		fmt.Printf("  Config:    not found (%s), defaults apply\n", cfgPath)
	}
	if cfg == nil {
		defaults, err := config.Default()
		if err != nil {
			return err
		}
		cfg = defaults
	}
	fmt.Printf("  Notify:    %02d:00 local, lead days %s\n",
		cfg.NotifyHourValue(), model.FormatLeadDays(cfg.LeadDays))
	if cfg.HomeAssistant != nil {
		fmt.Printf("  HA:        %s → notify.%s\n", cfg.HomeAssistant.URL, cfg.HomeAssistant.NotifyService)
	} else {
		fmt.Println("  HA:        not configured (log sink)")
	}

	// Database state.
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath, _ = config.DefaultDBPath()
	}
	info, err := os.Stat(dbPath)
	if err != nil {
		fmt.Printf("  Database:  not found (%s)\n", dbPath)
		return nil
	}
	fmt.Printf("  Database:  %s (%s)\n", dbPath, humanSize(info.Size()))

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Printf("  Reminders: unavailable (%v)\n", err)
		return nil
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	active, err := st.ListAllActive(ctx)
	if err == nil {
		fmt.Printf("  Reminders: %d active\n", len(active))
	}
	vehicles, err := st.ListVehicles(ctx)
	if err == nil {
		fmt.Printf("  Vehicles:  %d\n", len(vehicles))
	}
	return nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
