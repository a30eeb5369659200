package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wabridge/internal/api"
	"wabridge/internal/classify"
	"wabridge/internal/config"
	"wabridge/internal/correlate"
	"wabridge/internal/dispatch"
	"wabridge/internal/domain"
	"wabridge/internal/journal"
	"wabridge/internal/relay"
	"wabridge/internal/session"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "wabridge",
		Short: "wabridge: HTTP to WhatsApp relay with message correlation",
		Long:  "wabridge exposes a WhatsApp session over HTTP and relays reactions and replies on sent messages back to an operations panel.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.wabridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and auth directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.Session.AuthDir), 0o700); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "authDir", cfg.Session.AuthDir)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect the session and serve the HTTP API",
		RunE:  runServe,
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults plus environment", "path", cfgPath, "err", err)
		cfg = config.FromEnv()
	}
	applyLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := correlate.NewStore(cfg.Relay.StoreCapacity)
	ring := correlate.NewRing(cfg.Relay.BufferSize)
	hub := relay.NewHub(ring, logger)

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(cfg.Journal.DBPath, logger)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		defer jnl.Close()
	}

	var sink *relay.AMQPSink
	if cfg.Relay.AMQP.Enabled {
		sink, err = relay.NewAMQPSink(ctx, cfg.Relay.AMQP.URL, cfg.Relay.AMQP.Exchange, logger)
		if err != nil {
			return fmt.Errorf("amqp sink: %w", err)
		}
		defer sink.Close()
	}

	rel := relay.New(relay.Config{
		PanelURL:     cfg.Panel.URL,
		RelayReplies: cfg.Panel.RelayReplies,
		Ring:         ring,
		Hub:          hub,
		Sink:         sink,
		Journal:      eventJournal(jnl),
		Logger:       logger,
	})

	classifier := classify.New(classify.Config{
		Store:          store,
		AllowedReactor: cfg.Panel.AllowedReactor,
		LogSkipped:     cfg.Panel.LogSkipped,
		Logger:         logger,
	})

	provider := session.NewWhatsmeow(session.WhatsmeowConfig{
		AuthDir:      cfg.Session.AuthDir,
		QueryTimeout: time.Duration(cfg.Session.QueryTimeoutSeconds) * time.Second,
		Logger:       logger,
	})

	manager := session.NewManager(session.ManagerConfig{
		Provider:       provider,
		ReconnectDelay: time.Duration(cfg.Session.ReconnectDelayMs) * time.Millisecond,
		Logger:         logger,
		OnUpserts: func(items []domain.RawMessage) {
			for _, ev := range classifier.Upserts(items) {
				rel.Publish(ev)
			}
		},
		OnUpdates: func(items []domain.RawUpdate) {
			for _, ev := range classifier.Updates(items) {
				rel.Publish(ev)
			}
		},
	})

	dispatcher := dispatch.New(dispatch.Config{
		Provider:      provider,
		State:         manager.State,
		Store:         store,
		RatePerSecond: cfg.Session.SendRatePerSecond,
		Journal:       sendJournal(jnl),
		Logger:        logger,
		SendTimeout:   time.Duration(cfg.Session.QueryTimeoutSeconds) * time.Second,
	})

	manager.Start(ctx)

	if cfg.Keepalive.Enabled {
		ka := api.NewKeepalive(cfg.Keepalive.URL,
			time.Duration(cfg.Keepalive.IntervalSeconds)*time.Second, logger)
		go ka.Run(ctx)
	}

	server := api.NewServer(api.ServerConfig{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Dispatcher: dispatcher,
		Provider:   provider,
		State:      manager.State,
		Hub:        hub,
		Journal:    jnl,
		Logger:     logger,
		Version:    version,
	})

	logger.Info("wabridge starting", "version", version)
	return server.Start(ctx)
}

// eventJournal and sendJournal keep a disabled journal from turning into a
// non-nil interface holding a nil pointer.
func eventJournal(j *journal.Journal) relay.EventJournal {
	if j == nil {
		return nil
	}
	return j
}

func sendJournal(j *journal.Journal) dispatch.Journal {
	if j == nil {
		return nil
	}
	return j
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Query a running bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.FromEnv()
			}

			url := fmt.Sprintf("http://127.0.0.1:%d/status", cfg.Server.Port)
			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(url)
			if err != nil {
				logger.Info("bridge", "running", false, "err", err)
				return nil
			}
			defer resp.Body.Close()

			var status map[string]any
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("cannot decode status: %w", err)
			}
			logger.Info("bridge", "running", true,
				"state", status["state"], "version", status["version"], "uptime", status["uptime"])
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("wabridge", version)
		},
	}
}
