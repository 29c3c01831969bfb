package main

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"nexus/internal/config"
	"nexus/internal/convex"
	"nexus/internal/llm"
	"nexus/internal/logging"
	"nexus/internal/server"
	"nexus/internal/settings"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "nexus",
	Short:         "Broadcast one message to many models over a single SSE stream",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.nexus/config.yaml)")
	rootCmd.AddCommand(serveCmd, sendCmd, settingsCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// buildStore picks the conversation backend: Convex when a deployment URL is
// configured, an in-process store otherwise.
func buildStore(cfg *config.Config, logger logging.Logger) server.ConversationStore {
	if cfg.Convex.URL == "" {
		logger.Warn("No convex.url configured; conversations are held in memory only")
		return convex.NewMemoryStore()
	}
	return convex.NewClient(cfg.Convex.URL, cfg.Convex.APIKey, cfg.Convex.Timeout, logger)
}

func buildSettings(cfg *config.Config, logger logging.Logger) (*settings.Store, error) {
	return settings.NewStore(settings.NewFileKV(cfg.SettingsPath), cfg.Catalog(), logger)
}

func buildFactory(cfg *config.Config, logger logging.Logger) (*llm.Factory, error) {
	providers := make(map[string]llm.ProviderConfig, len(cfg.Providers))
	for id, p := range cfg.Providers {
		providers[id] = llm.ProviderConfig{
			BaseURL: p.BaseURL,
			APIKey:  p.APIKey,
			Timeout: p.Timeout,
		}
	}
	return llm.NewFactory(providers, logger)
}
