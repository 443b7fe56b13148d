package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pillpal/pillpald/internal/api"
	"github.com/pillpal/pillpald/internal/app"
	"github.com/pillpal/pillpald/internal/channels/discord"
	"github.com/pillpal/pillpald/internal/channels/telegram"
	"github.com/pillpal/pillpald/internal/cli"
	"github.com/pillpal/pillpald/internal/config"
	"github.com/pillpal/pillpald/internal/cron"
	"github.com/pillpal/pillpald/internal/dosestore"
	"github.com/pillpal/pillpald/internal/metrics"
	"github.com/pillpal/pillpald/internal/notify"
	"github.com/pillpal/pillpald/internal/scheduler"
	"github.com/pillpal/pillpald/internal/store"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	cli.Version = version

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "status":
			cli.HandleStatusCommand()
			return
		case "doctor":
			cli.HandleDoctorCommand()
			return
		case "config":
			cli.HandleConfigCommand(os.Args[2:])
			return
		case "help", "--help", "-h":
			cli.PrintExtendedHelp()
			return
		case "version", "--version", "-v":
			fmt.Printf("PillPal version %s\n", version)
			return
		}
	}

	flag.Parse()

	runDaemon()
}

func runDaemon() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting PillPal daemon", zap.String("version", version))

	if err := config.LoadEnvFiles(); err != nil {
		logger.Warn("Failed to load env files", zap.Error(err))
	}

	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer st.Close()

	client := dosestore.NewClient(cfg.Upstream, logger)

	notifier := notify.New(notify.Permission(cfg.Notify.Permission), cfg.Notify.Chime, st, logger)
	notifier.AddSink(notify.NewLocalSink(logger))

	// Caregiver escalations bypass the user-facing permission gate; the
	// channels themselves are the opt-in.
	escalator := notify.New(notify.PermissionGranted, false, st, logger)

	sched := scheduler.New(notifier, st, logger)
	defer sched.Stop()

	application := app.New(cfg, client, st, notifier, escalator, sched,
		metrics.New(prometheus.DefaultRegisterer), logger)

	tgBot, err := telegram.NewBot(telegram.Config{
		Token:   cfg.Channels.Telegram.BotToken,
		Enabled: cfg.Channels.Telegram.Enabled,
		ChatID:  cfg.Channels.Telegram.ChatID,
	}, application.StatusSummary, logger)
	if err != nil {
		logger.Warn("Failed to initialize Telegram bot", zap.Error(err))
	} else if err := tgBot.Start(); err != nil {
		logger.Warn("Failed to start Telegram bot", zap.Error(err))
	} else {
		escalator.AddSink(tgBot)
		defer tgBot.Stop()
	}

	dcBot, err := discord.NewBot(discord.Config{
		Token:     cfg.Channels.Discord.Token,
		Enabled:   cfg.Channels.Discord.Enabled,
		ChannelID: cfg.Channels.Discord.ChannelID,
	}, application.StatusSummary, logger)
	if err != nil {
		logger.Warn("Failed to initialize Discord bot", zap.Error(err))
	} else if err := dcBot.Start(); err != nil {
		logger.Warn("Failed to start Discord bot", zap.Error(err))
	} else {
		escalator.AddSink(dcBot)
		defer dcBot.Stop()
	}

	runner := cron.NewRunner(st, application.FireReminder, application.Midnight, logger)
	if err := runner.Start(); err != nil {
		logger.Fatal("Failed to start cron runner", zap.Error(err))
	}
	defer runner.Stop()

	cfg.Watch(func(ec config.EngineConfig) {
		logger.Info("Engine config reloaded",
			zap.Int("grace_minutes", ec.GraceMinutes),
			zap.Int("eval_interval_secs", ec.EvalIntervalSecs),
		)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go application.Run(ctx)

	server := api.New(cfg, application, st, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	cancel()
	if err := server.Shutdown(); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
