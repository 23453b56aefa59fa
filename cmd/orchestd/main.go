package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"orchestd/internal/config"
	"orchestd/internal/httpapi"
	"orchestd/internal/jobs"
	"orchestd/internal/models"
	"orchestd/internal/notify"
	"orchestd/internal/orchestrator"
	"orchestd/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath    string
		addr       string
		backendURL string
		tokenFile  string
		datasetDir string
		pollSec    int
		logLevel   string
		corsOn     bool
		corsOrigin []string
	)

	root := &cobra.Command{
		Use:           "orchestd",
		Short:         "Training-job and loaded-model orchestration against a model backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cfgPath, "config", envOr("ORCHESTD_CONFIG", ""), "Config file (.toml/.yaml/.json); flags override file values")
	pf.StringVar(&addr, "addr", envOr("ORCHESTD_ADDR", ":8090"), "View API listen address")
	pf.StringVar(&backendURL, "backend-url", envOr("ORCHESTD_BACKEND_URL", "http://127.0.0.1:8000"), "Model backend base URL")
	pf.StringVar(&tokenFile, "token-file", envOr("ORCHESTD_TOKEN_FILE", ""), "File holding the bearer credential; re-read per call")
	pf.StringVar(&datasetDir, "dataset-dir", envOr("ORCHESTD_DATASET_DIR", "./datasets"), "Directory holding dataset files for LoRA submissions")
	pf.IntVar(&pollSec, "poll-interval", 30, "Background refresh interval in seconds (0 disables)")
	pf.StringVar(&logLevel, "log-level", envOr("ORCHESTD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	pf.BoolVar(&corsOn, "cors-enabled", false, "Enable CORS on the view API")
	pf.StringSliceVar(&corsOrigin, "cors-origins", []string{"*"}, "Allowed CORS origins")

	build := func() (*orchestrator.Orchestrator, config.Config, zerolog.Logger, error) {
		cfg := config.Config{}
		if cfgPath != "" {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return nil, cfg, zerolog.Nop(), fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
		}
		// Flags win over file values when set; file values win over flag
		// defaults only when the flag was not passed explicitly.
		if cfg.Addr == "" || root.PersistentFlags().Changed("addr") {
			cfg.Addr = addr
		}
		if cfg.BackendURL == "" || root.PersistentFlags().Changed("backend-url") {
			cfg.BackendURL = backendURL
		}
		if cfg.TokenFile == "" || root.PersistentFlags().Changed("token-file") {
			cfg.TokenFile = tokenFile
		}
		if cfg.DatasetDir == "" || root.PersistentFlags().Changed("dataset-dir") {
			cfg.DatasetDir = datasetDir
		}
		if cfg.PollIntervalSec == 0 || root.PersistentFlags().Changed("poll-interval") {
			cfg.PollIntervalSec = pollSec
		}
		if cfg.LogLevel == "" || root.PersistentFlags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if root.PersistentFlags().Changed("cors-enabled") {
			cfg.CORSEnabled = corsOn
			cfg.CORSOrigins = corsOrigin
		}

		lvl, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			lvl = zerolog.InfoLevel
		}
		logger := zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", "orchestd").Logger()

		var token transport.TokenSource
		if cfg.TokenFile != "" {
			token = transport.FileToken{Path: cfg.TokenFile}
		}
		client := transport.New(transport.Config{
			BaseURL:       cfg.BackendURL,
			Token:         token,
			ShortTimeout:  time.Duration(cfg.ShortTimeoutSec) * time.Second,
			CallTimeout:   time.Duration(cfg.CallTimeoutSec) * time.Second,
			UploadTimeout: time.Duration(cfg.UploadTimeoutSec) * time.Second,
			Logger:        logger.With().Str("component", "transport").Logger(),
		})

		queue := notify.NewQueue(cfg.NotifyCapacity)
		jobReg := jobs.New(jobs.Config{
			Backend:    client,
			Notifier:   queue,
			DatasetDir: cfg.DatasetDir,
			Logger:     logger.With().Str("component", "jobs").Logger(),
		})
		modelReg := models.New(models.Config{
			Backend:  client,
			Notifier: queue,
			Logger:   logger.With().Str("component", "models").Logger(),
		})
		orch := orchestrator.New(orchestrator.Config{
			Jobs:         jobReg,
			Models:       modelReg,
			Queue:        queue,
			PollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
			Logger:       logger.With().Str("component", "orchestrator").Logger(),
		})
		return orch, cfg, logger, nil
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the view API and the background refresh loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, cfg, logger, err := build()
			if err != nil {
				return err
			}
			httpapi.SetLogger(logger.With().Str("component", "httpapi").Logger())
			httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
				[]string{"GET", "POST", "DELETE", "OPTIONS"},
				[]string{"Accept", "Content-Type"})

			runCtx, stopRun := context.WithCancel(context.Background())
			defer stopRun()
			if cfg.PollIntervalSec > 0 {
				go orch.Run(runCtx)
			} else {
				go func() { _ = orch.RefreshAll(runCtx) }()
			}

			srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(orch)}
			go func() {
				logger.Info().Str("addr", cfg.Addr).Str("backend", cfg.BackendURL).Msg("orchestd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Fatal().Err(err).Msg("server error")
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			stopRun()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "One-shot refresh; prints the collections as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, _, _, err := build()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 90*time.Second)
			defer cancel()
			refreshErr := orch.RefreshAll(ctx)
			out := map[string]any{
				"jobs":          orch.Jobs(),
				"models":        orch.Models(),
				"adapters":      orch.Adapters(),
				"notifications": orch.Notifications(),
				"state":         orch.State(),
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out); err != nil {
				return err
			}
			return refreshErr
		},
	}

	root.AddCommand(serve, refresh)
	return root
}
