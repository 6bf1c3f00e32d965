// Package main runs the review bot: it reads game links from stdin, reviews
// them one at a time on a shared logged-in browser profile, and resets
// every requester's daily credits on a schedule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/entrhq/reviewbot/pkg/browser"
	"github.com/entrhq/reviewbot/pkg/config"
	"github.com/entrhq/reviewbot/pkg/ledger"
	"github.com/entrhq/reviewbot/pkg/logging"
	"github.com/entrhq/reviewbot/pkg/orchestrator"
	"github.com/entrhq/reviewbot/pkg/profile"
	"github.com/entrhq/reviewbot/pkg/scheduler"
	"github.com/entrhq/reviewbot/pkg/session"
	"github.com/entrhq/reviewbot/pkg/transport/console"
	"golang.org/x/sync/errgroup"
)

const version = "0.1.0"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigFile  string
	LogLevel    string
	Admins      string
	ShowVersion bool
}

func main() {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("reviewbot v%s\n", version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nShutting down gracefully...")
		cancel()
	}()

	if err := run(ctx, cli); err != nil {
		cancel()
		log.Printf("reviewbot failed: %v", err)
		os.Exit(1)
	}
	cancel()
}

// parseFlags parses command line flags
func parseFlags() *CLIConfig {
	cli := &CLIConfig{}

	flag.StringVar(&cli.ConfigFile, "config", "", "Path to configuration file (YAML)")
	flag.StringVar(&cli.LogLevel, "log-level", "", "Override logging level: debug, info, warn or error")
	flag.StringVar(&cli.Admins, "admins", os.Getenv("REVIEWBOT_ADMINS"), "Comma-separated requesters allowed to run /setconfig and /setcredits (default: everyone)")
	flag.BoolVar(&cli.ShowVersion, "version", false, "Show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "reviewbot - serialized game reviews with daily credits\n\n")
		fmt.Fprintf(os.Stderr, "Usage: reviewbot [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nInput lines (stdin):\n")
		fmt.Fprintf(os.Stderr, "  <requester> https://www.chess.com/live/game/<id>\n")
		fmt.Fprintf(os.Stderr, "  <requester> /setconfig <username> <password>\n")
		fmt.Fprintf(os.Stderr, "  <requester> /setcredits <requester> <amount>\n")
		fmt.Fprintf(os.Stderr, "  <requester> /balance\n")
	}

	flag.Parse()
	return cli
}

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Configure(cfg.Logging.Dir, cfg.LogLevel())
	logger := logging.MustLogger("reviewbot")
	defer logger.Close()
	logger.Infof("reviewbot v%s starting (run %s, config %q)", version, logger.RunID(), cfg.ConfigFilePath)

	loc, err := cfg.Ledger.TimeLocation()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg.Ledger.Driver, cfg.Ledger.Location(), logger.With("store"))
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer store.Close()

	credits := ledger.New(store,
		ledger.WithAllotment(cfg.Ledger.Allotment),
		ledger.WithLocation(loc),
		ledger.WithLogger(logger.With("ledger")),
	)

	creds, err := config.NewCredentialStore(cfg.Credentials.Path, logger.With("credentials"))
	if err != nil {
		return err
	}

	compactor, err := profile.NewCompactor(cfg.Profile.Whitelist, logger.With("profile"))
	if err != nil {
		return err
	}

	manager := browser.NewManager(cfg.Browser, logger.With("browser"))
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Warnf("browser shutdown: %v", err)
		}
	}()
	// Fail at startup rather than on the first charged request.
	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("failed to start browser driver: %w", err)
	}

	machine := session.NewMachine(manager, cfg.Profile.Dir, cfg.Session, logger.With("session"))
	orch := orchestrator.New(credits, machine, compactor, creds,
		orchestrator.WithHost(cfg.Target.Host),
		orchestrator.WithProgress(cfg.Progress),
		orchestrator.WithLogger(logger.With("orchestrator")),
	)
	defer orch.Close()

	at, err := scheduler.ParseTimeOfDay(cfg.Schedule.ResetAt)
	if err != nil {
		return err
	}
	daily := &scheduler.Daily{
		At:       at,
		Location: loc,
		Grace:    cfg.Schedule.Grace,
		Logger:   logger.With("scheduler"),
		Job: func(ctx context.Context) error {
			n, err := credits.ResetAll(ctx)
			if err != nil {
				return err
			}
			logger.Infof("daily reset restored %d account(s) to %d credits", n, credits.Allotment())
			return nil
		},
	}

	var opts []console.Option
	opts = append(opts, console.WithLogger(logger.With("console")))
	if admins := splitList(cli.Admins); len(admins) > 0 {
		opts = append(opts, console.WithAdmins(admins...))
	}
	transport := console.New(orch, os.Stdin, console.NewWriter(os.Stdout), opts...)

	if creds.Current().Empty() {
		fmt.Fprintf(os.Stderr, "No site credentials configured. Send: <you> /setconfig <username> <password>\n")
	} else {
		fmt.Fprintf(os.Stderr, "Using site credentials from %s.\n", creds.Source())
	}
	fmt.Fprintf(os.Stderr, "reviewbot ready. Logs: %s\n", logger.LogPath())

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return daily.Run(gctx)
	})
	g.Go(func() error {
		// End of input stops the scheduler too.
		defer stop()
		return transport.Serve(gctx)
	})

	err = g.Wait()
	logger.Infof("shutting down")
	return err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
