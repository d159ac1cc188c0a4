// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the tokengate command-line application.
package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/tokengate/pkg/config"
	"github.com/stacklok/tokengate/pkg/logger"
)

// NewRootCmd creates a new root command for the tokengate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "tokengate",
		DisableAutoGenTag: true,
		Short:             "tokengate is a forward-auth gateway issuing and checking scoped tokens",
		Long: `tokengate sits behind an ingress and answers its authentication subrequests.

It logs users in through GitHub or an OpenID Connect provider, issues session,
user, notebook, internal and service tokens stored in Redis, and decides
whether a token grants the scopes a route requires.`,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error(fmt.Sprintf("Error displaying help: %v", err))
			}
		},
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.New(logger.Options{Debug: viper.GetBool("debug")})
		},
		// Silence printing the usage on error
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error(fmt.Sprintf("Error binding debug flag: %v", err))
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to the tokengate configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		slog.Error(fmt.Sprintf("Error binding config flag: %v", err))
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// newServeCmd creates the serve command for starting the gateway.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the gateway. The configuration file given with --config is loaded,
environment overrides prefixed TOKENGATE_ are applied, and the HTTP and metrics
listeners run until the process receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, slog.Default())
		},
	}
}

// newValidateCmd creates the validate command for checking configuration.
func newValidateCmd() *cobra.Command {
	var printConfig bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file for syntax and semantic errors.
Every problem found is reported, not only the first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if printConfig {
				out, err := yaml.Marshal(cfg.Redacted())
				if err != nil {
					return fmt.Errorf("failed to encode configuration: %w", err)
				}
				if _, err := cmd.OutOrStdout().Write(out); err != nil {
					return err
				}
			}
			slog.Info("configuration is valid", "config", viper.GetString("config"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&printConfig, "print", false, "Print the effective configuration as YAML")

	return cmd
}

func loadConfig() (*config.Config, error) {
	configPath := viper.GetString("config")
	if configPath == "" {
		return nil, fmt.Errorf("no configuration file specified, use --config flag")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}
