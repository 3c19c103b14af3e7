package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orbit/bot"
	"orbit/core"
	"orbit/gemini"
	"orbit/generate"
	"orbit/lib/sl"
	"orbit/session"
	"orbit/storage"
	"orbit/webapi"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {

	configPath := flag.String("conf", "config.yml", "path to config file")
	flag.Parse()

	conf := core.MustLoad(*configPath)
	log := setupLogger(conf.Env)
	log.With(
		slog.String("config", *configPath),
		slog.String("env", conf.Env),
		sl.Secret(conf.GeminiApiKey),
	).Info("starting orbit bot")

	// Initialize storage based on config
	var accounts storage.AccountStorage
	var settings storage.SettingsStorage
	if conf.Mongo.Enabled {
		mongoURI := fmt.Sprintf("mongodb://%s:%s@%s:%s",
			conf.Mongo.User, conf.Mongo.Password,
			conf.Mongo.Host, conf.Mongo.Port)
		mongoAccounts, err := storage.NewMongoStorage(mongoURI, conf.Mongo.Database, log)
		if err != nil {
			log.With(
				slog.String("db", conf.Mongo.Database),
				slog.String("user", conf.Mongo.User),
				slog.String("host", conf.Mongo.Host),
			).Error("falling back to memory", sl.Err(err))
			accounts = storage.NewMemoryStorage()
			settings = storage.NewMemorySettings()
		} else {
			accounts = mongoAccounts
			mongoSettings, err := storage.NewMongoSettings(mongoAccounts.Client(), mongoAccounts.Database(), log)
			if err != nil {
				log.Error("settings storage, falling back to memory", sl.Err(err))
				settings = storage.NewMemorySettings()
			} else {
				settings = mongoSettings
			}
			log.Info("using MongoDB storage")
		}
	} else {
		accounts = storage.NewMemoryStorage()
		settings = storage.NewMemorySettings()
		log.Info("using in-memory storage")
	}

	tgBot, err := bot.NewTgBot(conf, log)
	if err != nil {
		log.Error("creating telegram", sl.Err(err))
		return
	}

	store := session.NewStore(settings, log)
	gate := session.NewGate(session.DefaultCooldown)
	gateway := gemini.NewClient(conf, log)
	images := generate.NewOrchestrator(store, accounts, gateway, tgBot, conf.Privileged, log)
	remix := session.NewRemix(store, tgBot, log)
	albums := session.NewAggregator(store, remix, gate, tgBot, images.Generate, log)

	tgBot.SetServices(images, store, remix, albums, gate, accounts)

	var api *webapi.Server
	if conf.WebApi.Enabled {
		api = webapi.NewServer(conf, accounts, log)
		go func() {
			if err := api.Start(); err != nil {
				log.Error("web api stopped with error", sl.Err(err))
			}
		}()
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start bot in goroutine
	go func() {
		if err := tgBot.Start(); err != nil {
			log.Error("bot stopped with error", sl.Err(err))
		}
	}()

	log.Info("bot started")

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info("received signal, shutting down", slog.String("signal", sig.String()))

	// Graceful shutdown
	tgBot.Stop()

	if api != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Stop(ctx); err != nil {
			log.Error("stopping web api", sl.Err(err))
		}
		cancel()
	}

	if err := accounts.Close(); err != nil {
		log.Error("closing account storage", sl.Err(err))
	}
	if err := settings.Close(); err != nil {
		log.Error("closing settings storage", sl.Err(err))
	}

	log.Info("shutdown complete")
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
