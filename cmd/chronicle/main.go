package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/chronicle/internal/api"
	"github.com/mattjoyce/chronicle/internal/config"
	"github.com/mattjoyce/chronicle/internal/doctor"
	"github.com/mattjoyce/chronicle/internal/events"
	"github.com/mattjoyce/chronicle/internal/history"
	"github.com/mattjoyce/chronicle/internal/lock"
	"github.com/mattjoyce/chronicle/internal/log"
	"github.com/mattjoyce/chronicle/internal/logfile"
	"github.com/mattjoyce/chronicle/internal/retention"
	"github.com/mattjoyce/chronicle/internal/scheduler"
	"github.com/mattjoyce/chronicle/internal/storage"
	"github.com/mattjoyce/chronicle/internal/tui"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "append":
		os.Exit(runAppend(args))
	case "sweep":
		os.Exit(runSweep(args))
	case "sweeps":
		os.Exit(runSweeps(args))
	case "watch":
		os.Exit(runWatch(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "doctor": // alias for config check
		os.Exit(runConfigCheck(args))
	case "version":
		fmt.Printf("chronicle version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`chronicle - Dated log files with scheduled retention sweeps

Usage:
  chronicle <command> [flags]

Commands:
  start                     Run the service in foreground (scheduler + API)
  append --target NAME TEXT Append a stamped line to a target's dated file
  sweep --target NAME       Run a retention sweep for one target now
  sweeps                    Show recorded sweep history
  watch                     Live terminal monitor (requires running API)
  doctor                    Validate configuration (alias of config check)

Config Commands:
  config check              Validate syntax, paths, and integrity
  config lock               Authorize current config (update integrity hashes)

General:
  version                   Show version information
  help                      Show this help message
`)
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintf(os.Stderr, "Usage: chronicle config <check|lock> [flags]\n")
		return 1
	}
	switch args[0] {
	case "check":
		return runConfigCheck(args[1:])
	case "lock":
		return runConfigLock(args[1:])
	case "help", "--help", "-h":
		fmt.Print("chronicle config check|lock [--config PATH]\n")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", args[0])
		return 1
	}
}

// loadConfig resolves the config path (flag value or discovery) and loads it.
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", fmt.Errorf("discover config: %w", err)
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", err
	}
	return cfg, configPath, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("chronicle starting", "version", version, "config", resolvedPath)

	pidLock, err := lock.Acquire(cfg.Service.LockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.LockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	store := history.NewStore(db)
	hub := events.NewHub(256)

	handles := make(map[string]*logfile.Handle, len(cfg.Targets))
	sweepers := make(map[string]*retention.Sweeper, len(cfg.Targets))
	for _, name := range sortedTargets(cfg) {
		t := cfg.Targets[name]
		h, err := logfile.New(t.Dir, t.FileNameFormat, t.LineTimeFormat, t.RetentionDays, log.WithTarget(name))
		if err != nil {
			logger.Error("failed to open target", "target", name, "dir", t.Dir, "error", err)
			return 1
		}
		handles[name] = h
		sweepers[name] = retention.NewSweeper(t.Dir, t.RetentionDays, log.WithTarget(name))
		logger.Info("target ready", "target", name, "dir", t.Dir, "retention", h.RetentionEnabled())
	}

	sched := scheduler.New(cfg, sweepers, store, hub, log.WithComponent("scheduler"))
	if err := sched.Start(ctx); err != nil {
		logger.Error("scheduler failed to start", "error", err)
		return 1
	}
	defer sched.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)

	if cfg.API.Enabled {
		targets := make(map[string]api.Target, len(handles))
		for name, h := range handles {
			targets[name] = h
		}
		apiServer := api.New(api.Config{
			Listen: cfg.API.Listen,
			APIKey: cfg.API.Auth.APIKey,
		}, targets, sched, store, hub, log.WithComponent("api"))
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("chronicle running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("chronicle stopped")
	return 0
}

func runAppend(args []string) int {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	targetName := fs.String("target", "", "Target to append to")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	line := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if *targetName == "" || line == "" {
		fmt.Fprintf(os.Stderr, "Usage: chronicle append --target NAME TEXT...\n")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	t, ok := cfg.Targets[*targetName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown target: %s\n", *targetName)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	h, err := logfile.New(t.Dir, t.FileNameFormat, t.LineTimeFormat, t.RetentionDays, log.WithTarget(*targetName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open target %s: %v\n", *targetName, err)
		return 1
	}

	if !h.Append(line) {
		fmt.Fprintf(os.Stderr, "Append failed (see log output)\n")
		return 1
	}
	return 0
}

func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	targetName := fs.String("target", "", "Target to sweep")
	pattern := fs.String("pattern", "", "Override filename pattern for this run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *targetName == "" {
		fmt.Fprintf(os.Stderr, "Usage: chronicle sweep --target NAME [--pattern REGEX]\n")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if _, ok := cfg.Targets[*targetName]; !ok {
		fmt.Fprintf(os.Stderr, "Unknown target: %s\n", *targetName)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	ctx := context.Background()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	sweepers := make(map[string]*retention.Sweeper, len(cfg.Targets))
	for name, t := range cfg.Targets {
		sweepers[name] = retention.NewSweeper(t.Dir, t.RetentionDays, log.WithTarget(name))
	}

	sched := scheduler.New(cfg, sweepers, history.NewStore(db), events.NewHub(16), log.WithComponent("scheduler"))
	entry, err := sched.RunTarget(ctx, *targetName, *pattern, history.TriggerCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}

	if entry.Disabled {
		fmt.Printf("Target %s has no retention configured; nothing deleted.\n", *targetName)
		return 0
	}
	fmt.Printf("Swept %s: examined=%d deleted=%d failed=%d skipped=%d\n",
		*targetName, entry.Examined, entry.Deleted, entry.Failed, entry.Skipped)
	return 0
}

func runSweeps(args []string) int {
	fs := flag.NewFlagSet("sweeps", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	targetName := fs.String("target", "", "Filter by target")
	limit := fs.Int("limit", 20, "Maximum entries to show")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	store := history.NewStore(db)
	var entries []history.Entry
	if *targetName != "" {
		entries, err = store.RecentForTarget(ctx, *targetName, *limit)
	} else {
		entries, err = store.Recent(ctx, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read sweep history: %v\n", err)
		return 1
	}

	if len(entries) == 0 {
		fmt.Println("No sweeps recorded.")
		return 0
	}
	for _, e := range entries {
		status := fmt.Sprintf("examined=%d deleted=%d failed=%d skipped=%d", e.Examined, e.Deleted, e.Failed, e.Skipped)
		if e.Disabled {
			status = "retention disabled"
		}
		fmt.Printf("%s  %-12s %-8s %s\n", e.StartedAt.Local().Format("2006-01-02 15:04:05"), e.Target, e.Trigger, status)
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	apiURL := fs.String("url", "", "API base URL (default from config listen address)")
	apiKey := fs.String("api-key", "", "API key (default from config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	if *apiURL == "" || *apiKey == "" {
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			return 1
		}
		if *apiURL == "" {
			*apiURL = "http://" + cfg.API.Listen
		}
		if *apiKey == "" {
			*apiKey = cfg.API.Auth.APIKey
		}
	}

	p := tea.NewProgram(tui.NewWatch(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		return 1
	}
	return 0
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	strict := fs.Bool("strict", false, "Treat warnings as errors")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()

	if *jsonOut {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if *strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	resolved := *configPath
	if resolved == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		resolved = discovered
	}

	file, err := config.ResolveConfigFile(resolved)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve config file: %v\n", err)
		return 1
	}

	if err := config.Lock(file); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to lock config: %v\n", err)
		return 1
	}
	fmt.Printf("Locked configuration: %s\n", file)
	return 0
}

func sortedTargets(cfg *config.Config) []string {
	names := make([]string, 0, len(cfg.Targets))
	for name := range cfg.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
