package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	v1 "github.com/tinoosan/mediamgr/api/v1"
	"github.com/tinoosan/mediamgr/internal/categorizer"
	"github.com/tinoosan/mediamgr/internal/config"
	"github.com/tinoosan/mediamgr/internal/downloadcfg"
	"github.com/tinoosan/mediamgr/internal/downloader"
	"github.com/tinoosan/mediamgr/internal/logging"
	"github.com/tinoosan/mediamgr/internal/metrics"
	"github.com/tinoosan/mediamgr/internal/notify"
	"github.com/tinoosan/mediamgr/internal/ratelimit"
	"github.com/tinoosan/mediamgr/internal/reconciler"
	"github.com/tinoosan/mediamgr/internal/repo"
	"github.com/tinoosan/mediamgr/internal/router"
	"github.com/tinoosan/mediamgr/internal/service"
	"github.com/tinoosan/mediamgr/internal/telegram"
	"github.com/tinoosan/mediamgr/internal/tmdb"
	"github.com/tinoosan/mediamgr/internal/token"
	"github.com/tinoosan/mediamgr/internal/watcher"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	var cfgPath string

	cmd := &cobra.Command{
		Use:          "mediamgr",
		Short:        "Download media sent to a Telegram bot and file it into a library",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.Flags().String("download-dir", "", "directory completed downloads land in")
	cmd.Flags().Int("workers", 0, "concurrent downloads")
	cmd.Flags().String("log-level", "", "debug, info, warn or error")
	cmd.Flags().String("http-addr", "", "listen address for the HTTP API")
	bindFlags(v, cmd, map[string]string{
		"download-dir": "paths.download_dir",
		"workers":      "download.max_concurrent",
		"log-level":    "logging.level",
		"http-addr":    "http.addr",
	})

	cmd.AddCommand(newCheckCmd(v, &cfgPath))
	return cmd
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func newCheckCmd(v *viper.Viper, cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, *cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: downloads=%s workers=%d history=%s telegram=%v\n",
				cfg.Paths.DownloadDir, cfg.Download.MaxConcurrent, cfg.History.Driver, cfg.Telegram.Enabled)
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, closer, err := logging.New(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)
	metrics.Register()

	policy, _ := token.ParsePolicy(cfg.Token.Policy)
	tokens := token.New(logger, token.Options{Policy: policy, HoldLimit: cfg.Token.HoldLimit})
	defer tokens.Stop()

	var (
		bot      *telegram.Bot
		channel  notify.Channel
		transfer downloader.Transfer
		ready    router.Pinger
	)
	if cfg.Telegram.Enabled {
		bot, err = telegram.New(logger, cfg.Telegram.Token)
		if err != nil {
			return err
		}
		channel, transfer, ready = bot, bot, bot
	} else {
		logger.Warn("telegram disabled, notifications are logged only")
	}
	notifier := notify.NewService(logger, channel, tokens, cfg.Telegram.ChatID, cfg.Token.Timeout)

	hist, err := repo.Open(ctx, cfg.History.Driver, cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer hist.Close()

	lookup := tmdb.New(logger, tmdb.Options{
		BaseURL:           cfg.TMDB.BaseURL,
		APIKey:            cfg.TMDB.APIKey,
		Language:          cfg.TMDB.Language,
		RequestsPerSecond: cfg.TMDB.Rate,
		Burst:             cfg.TMDB.Burst,
	})
	cat := categorizer.New(logger, categorizer.Config{
		MoviesDir:    cfg.Paths.MoviesDir,
		TVDir:        cfg.Paths.TVDir,
		UnmatchedDir: cfg.Paths.UnmatchedDir,
	}, lookup, notifier)

	w := watcher.New(logger, watcher.Config{
		Dir:           cfg.Paths.DownloadDir,
		PollInterval:  cfg.Watcher.PollInterval,
		StableTimeout: cfg.Watcher.StableTimeout,
		StopTimeout:   cfg.Watcher.StopTimeout,
	}, cat, notifier)

	events := make(chan downloader.Event, 256)
	rec := reconciler.New(logger, hist, events)
	hub := v1.NewHub(logger)

	mgr := downloader.New(logger, downloader.Config{
		Workers:          cfg.Download.MaxConcurrent,
		MaxRetries:       cfg.Download.MaxRetries,
		RetryDelay:       cfg.Download.RetryDelay,
		Verify:           cfg.Download.Verify,
		DownloadDir:      cfg.Paths.DownloadDir,
		TempDir:          cfg.Paths.TempDir,
		Collision:        downloadcfg.ParseCollisionPolicy(cfg.Download.Collision),
		ProgressInterval: cfg.Download.ProgressInterval,
		ProgressStep:     cfg.Download.ProgressStep,
		DrainTimeout:     cfg.Download.DrainTimeout,
	}, transfer,
		downloader.WithNotifier(notifier),
		downloader.WithSink(w),
		downloader.WithReporter(downloader.MultiReporter{downloader.NewChanReporter(events), hub}),
		downloader.WithSpeedLimiter(ratelimit.NewByteLimiter(cfg.Download.SpeedLimit())),
		downloader.WithUpdateLimiter(ratelimit.NewUpdateLimiter[string](cfg.Download.UpdateInterval)),
	)

	rec.Run()
	if err := w.Start(); err != nil {
		rec.Stop()
		return err
	}
	if err := mgr.Start(); err != nil {
		_ = w.Stop(context.Background())
		rec.Stop()
		return err
	}

	var server *http.Server
	if cfg.HTTP.Enabled {
		svc := service.NewDownload(mgr, hist)
		server = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router.New(logger, svc, router.Options{Token: cfg.HTTP.APIToken, Ready: ready, Events: hub}),
			IdleTimeout:       120 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("starting http api", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", "err", err)
			}
		}()
	}

	botDone := make(chan struct{})
	if bot != nil {
		handler := telegram.NewHandler(logger, mgr, hist, notifier, cfg.Telegram.AllowedChats)
		handler.SetSettings(telegram.Settings{
			DownloadDir:   cfg.Paths.DownloadDir,
			MaxConcurrent: cfg.Download.MaxConcurrent,
			SpeedLimit:    cfg.Download.SpeedLimit(),
		})
		go func() {
			defer close(botDone)
			if err := bot.Run(ctx, handler); err != nil {
				logger.Error("telegram loop", "err", err)
			}
		}()
	} else {
		close(botDone)
	}

	<-ctx.Done()
	logger.Info("received terminate, graceful shutdown")
	<-botDone

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	hub.Close()
	if server != nil {
		if err := server.Shutdown(sctx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
	}
	if err := mgr.Stop(sctx); err != nil {
		logger.Warn("download manager stop", "err", err)
	}
	if err := w.Stop(sctx); err != nil {
		logger.Warn("watcher stop", "err", err)
	}
	rec.Stop()
	logger.Info("shutdown complete")
	return nil
}
