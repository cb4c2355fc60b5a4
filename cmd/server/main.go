package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Voice-ly/voice.ly-backend/internal/config"
	"github.com/Voice-ly/voice.ly-backend/internal/logging"
)

var configFile string

func main() {
	root := &cobra.Command{
		Use:           "voicely",
		Short:         "Voice.ly meetings backend",
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC servers",
		RunE:  runServe,
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations and exit",
		RunE:  runMigrate,
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel), nil
}
