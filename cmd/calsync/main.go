package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"calsync/internal/bus"
	"calsync/internal/cdn"
	"calsync/internal/config"
	"calsync/internal/discord"
	"calsync/internal/ics"
	"calsync/internal/job"
	appLog "calsync/internal/log"
	"calsync/internal/store"
	"calsync/internal/web"

	_ "time/tzdata"
)

const version = "0.1.0"

var (
	configPath string
	listenAddr string
	conf       *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "calsync",
	Short:         "Mirror an iCalendar feed into paged JSON and announce changes",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Annotations["skip_config"] == "true" {
			return nil
		}
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		conf = c

		lvl, err := appLog.ParseLevel(conf.LogLevel)
		if err != nil {
			appLog.Warn("unknown log level, using info", "log_level", conf.LogLevel)
		}
		appLog.SetLevel(lvl)
		appLog.SetFormat(conf.LogFormat)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync: fetch, diff, notify and publish pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp(conf, nil)
		sum, err := app.syncer.Run(cmd.Context())
		printJSON(sum)
		return err
	},
}

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Announce published events that start tomorrow",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := newApp(conf, nil)
		sum, err := app.reminder.Run(cmd.Context())
		printJSON(sum)
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve published documents and run both jobs on their schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		if listenAddr != "" {
			conf.Listen = listenAddr
		}
		return serve(cmd.Context(), conf)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configInitCmd = &cobra.Command{
	Use:         "init",
	Short:       "Write a default configuration file to --config",
	Annotations: map[string]string{"skip_config": "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil {
			return errors.New("config file already exists: " + configPath)
		}
		if err := config.Save(configPath, config.DefaultConfig()); err != nil {
			return err
		}
		appLog.Info("default configuration written", "path", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/calsync/config.yaml", "Path to config file")
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(syncCmd, remindCmd, serveCmd, configCmd)
}

func main() {
	appLog.Info("calsync starting", "version", version)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		appLog.Error("calsync failed", err)
		os.Exit(1)
	}
}

// app holds the wired components shared by every command.
type app struct {
	syncer   *job.Syncer
	reminder *job.Reminder
}

// newApp wires the store, the feed fetcher and the notification channel.
// extra is asked to invalidate alongside the logging invalidator.
func newApp(c *config.Config, extra cdn.Invalidator) *app {
	loc := c.Location()
	st := store.NewFS(c.StoreDir)

	b := bus.New()
	if c.DiscordWebhookURL != "" {
		discord.Subscribe(b, discord.NewNotifier(c.DiscordWebhookURL, loc, c.FetchTimeout))
	} else {
		appLog.Info("no discord webhook configured, notifications are only logged")
	}
	publisher := bus.NewPublisher(b, bus.DefaultDedupWindow, time.Now)

	invalidators := cdn.Multi{cdn.Log{}}
	if extra != nil {
		invalidators = append(invalidators, extra)
	}

	return &app{
		syncer: &job.Syncer{
			Config: job.SyncConfig{
				CalendarLink:   c.CalendarLink,
				EventsPerPage:  c.EventsPerPage,
				Location:       loc,
				NearTermMonths: c.NearTermMonths,
				HorizonMonths:  c.HorizonMonths,
			},
			Fetcher:     ics.NewFetcher(c.CacheDir, c.FetchTimeout),
			Store:       st,
			Publisher:   publisher,
			Invalidator: invalidators,
			Clock:       job.SystemClock{},
		},
		reminder: &job.Reminder{
			Store:     st,
			Publisher: publisher,
			Location:  loc,
			Clock:     job.SystemClock{},
		},
	}
}

func serve(ctx context.Context, c *config.Config) error {
	srv := web.NewServer(store.NewFS(c.StoreDir), web.Options{CORSOrigins: c.CORSOrigins()})
	a := newApp(c, srv)

	appLog.Info("effective config",
		"listen", c.Listen,
		"timezone", c.TZ,
		"events_per_page", c.EventsPerPage,
		"sync_schedule", c.SyncSchedule,
		"daily_schedule", c.DailySchedule,
		"store_dir", c.StoreDir,
	)

	logger := cronLogger{}
	sched := cron.New(
		cron.WithLocation(c.Location()),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := sched.AddFunc(c.SyncSchedule, func() {
		if _, err := a.syncer.Run(ctx); err != nil {
			appLog.Error("scheduled sync failed", err)
		}
	}); err != nil {
		return &config.Error{Key: "sync_schedule", Reason: err.Error()}
	}
	if _, err := sched.AddFunc(c.DailySchedule, func() {
		if _, err := a.reminder.Run(ctx); err != nil {
			appLog.Error("scheduled reminder failed", err)
		}
	}); err != nil {
		return &config.Error{Key: "daily_schedule", Reason: err.Error()}
	}

	sched.Start()
	defer func() {
		<-sched.Stop().Done()
		appLog.Info("scheduler stopped")
	}()

	return web.StartServer(ctx, c.Listen, srv)
}

// cronLogger routes scheduler logs through the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) { appLog.Debug("cron: "+msg, kv...) }

func (cronLogger) Error(err error, msg string, kv ...any) { appLog.Error("cron: "+msg, err, kv...) }

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		appLog.Error("failed to print summary", err)
	}
}
