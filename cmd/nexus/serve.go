package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nexus/internal/logging"
	"nexus/internal/server"
)

var serveDebug bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the broadcast streaming server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := logging.NewComponentLogger("Server")

		store := buildStore(cfg, logger)
		settingsStore, err := buildSettings(cfg, logger)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		factory, err := buildFactory(cfg, logger)
		if err != nil {
			return err
		}

		srv := server.New(server.Config{
			Addr:           cfg.Server.Addr,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Debug:          serveDebug,
		}, store, factory, settingsStore, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		fmt.Printf("%s listening on %s\n", bold("nexus"), cfg.Server.Addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		fmt.Println(gray("shutting down..."))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "enable verbose request logging")
}
