package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentbridge/agentbridge/internal/agent"
	"github.com/agentbridge/agentbridge/internal/config"
	"github.com/agentbridge/agentbridge/internal/event"
	"github.com/agentbridge/agentbridge/internal/logging"
	"github.com/agentbridge/agentbridge/internal/policy"
	"github.com/agentbridge/agentbridge/internal/server"
	"github.com/agentbridge/agentbridge/internal/session"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentbridge HTTP surface",
	Long: `Start agentbridge as a standalone HTTP server.

Without an embedding extension host the broker runs against a built-in
echo runtime, which is enough to drive the session, permission, and event
endpoints.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "", "Hostname to listen on (overrides config)")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Project directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if cmd.Flags().Changed("log-level") {
		level = logLevel
	}
	logging.Init(logging.Config{
		Level:  logging.ParseLevel(level),
		Pretty: prettyLog || cfg.Log.Pretty,
	})
	log := logging.Component("serve")

	bus := event.NewBus()
	defer bus.Close()

	broker := policy.NewBroker(policy.New(cfg.Policy), bus)
	broker.SetHandler(broker.BusHandler())

	registry := session.NewRegistry(agent.EchoRuntime{}, broker, bus, session.RegistryConfig{
		IdleTimeout:      time.Duration(cfg.Session.IdleTimeout),
		WorkspaceFolders: func() []string { return []string{workDir} },
		DefaultModel:     cfg.Session.DefaultModel,
	})
	defer registry.Close()

	// Keep permission rules live while the server runs.
	watcher, err := config.NewWatcher(workDir, func(rules policy.Rules) {
		broker.SetPolicy(policy.New(rules))
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable, policy edits need a restart")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	if serveHostname != "" {
		serverConfig.Host = serveHostname
	}
	if servePort != 0 {
		serverConfig.Port = servePort
	}

	srv := server.New(serverConfig, registry, broker, bus)

	go func() {
		log.Info().Str("host", serverConfig.Host).Int("port", serverConfig.Port).Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}
	return nil
}
