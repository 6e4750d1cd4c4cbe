package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-presence/internal/bot"
	"github.com/celerix-dev/celerix-presence/internal/config"
	"github.com/celerix-dev/celerix-presence/internal/engine"
	"github.com/celerix-dev/celerix-presence/internal/logger"
	"github.com/celerix-dev/celerix-presence/pkg/sdk"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "presence-bot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("presence-bot", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "optional dotenv file loaded before reading the environment")
	debug := flags.Bool("debug", false, "log Telegram API traffic")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if err := config.LoadEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.LoadBot()
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "presence-bot")
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// API_URL selects the daemon; without it the bot embeds the engine.
	svc, err := sdk.New(ctx, cfg.APIURL, cfg.DataDir, log)
	if err != nil {
		return errors.Wrap(err, "connect to presence service")
	}
	if eng, ok := svc.(*engine.Engine); ok {
		defer func() { _ = eng.Store().Close() }()
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return errors.Wrap(err, "telegram login")
	}
	api.Debug = *debug
	log.Info("bot started", zap.String("username", api.Self.UserName), zap.Int("admins", len(cfg.AdminIDs)))

	b := bot.New(api, svc, log, bot.Options{
		AdminIDs:       cfg.AdminIDs,
		SessionTTL:     cfg.SessionTTL,
		RequestTimeout: cfg.RequestTimeout,
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	err = b.Run(ctx, updates)
	log.Info("bot stopped")
	return err
}
