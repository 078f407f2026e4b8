package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JaimeStill/mender/internal/config"
	"github.com/JaimeStill/mender/internal/infrastructure"
	"github.com/JaimeStill/mender/internal/templates"
)

var (
	version = "dev"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:          "mender",
	Short:        "Run and inspect image workflow templates",
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.BaseConfigFile,
		"config file; MENDER_ENV selects an overlay next to it")
}

// setup loads the local config and a stderr logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadLocal(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, infrastructure.NewLogger(&cfg.Server, os.Stderr), nil
}

func openTemplates(cfg *config.Config, logger *slog.Logger) (templates.System, error) {
	cfg.Templates.Watch = false
	return templates.New(&cfg.Templates, logger)
}
