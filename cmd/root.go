package cmd

import (
	"os"

	"github.com/jrschumacher/openid4vci/internal/config"
	"github.com/jrschumacher/openid4vci/internal/logger"
	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "vci",
	Short: "openid4vci wallet CLI",
	Long:  `vci — drives an OpenID4VCI credential issuance flow from the command line`,
}

func Execute(c *config.Config) {
	cfg = c
	logger.Info("Starting CLI", "env", cfg.AppEnv)
	if err := rootCmd.Execute(); err != nil {
		logger.Error("CLI error", "error", err)
		os.Exit(1)
	}
}
