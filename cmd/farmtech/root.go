// v1
// cmd/farmtech/root.go
package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsromanox/FarmTech/internal/config"
	"github.com/tsromanox/FarmTech/internal/logging"
	"github.com/tsromanox/FarmTech/internal/telemetry"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "farmtech",
		Short:        "farmtech drives an irrigation pump from a humidity sensor and forwards telemetry",
		SilenceUsage: true,
	}
	root.AddCommand(
		newRunCommand(),
		newBrokerCommand(),
		newSASCommand(),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "farmtech", version)
		},
	}
}

func newSASCommand() *cobra.Command {
	var (
		properties string
		hub        string
		device     string
		key        string
		ttl        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sas",
		Short: "Print an Azure IoT Hub SAS token for the configured device",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(properties, logging.Discard())
			if err != nil {
				return err
			}
			if hub != "" {
				cfg.AzureHub = hub
			}
			if device != "" {
				cfg.AzureDeviceID = device
			}
			if key != "" {
				cfg.AzureDeviceKey = key
			}
			if cmd.Flags().Changed("ttl") {
				cfg.AzureSASTTL = ttl
			}
			if cfg.AzureHub == "" || cfg.AzureDeviceID == "" || cfg.AzureDeviceKey == "" {
				return fmt.Errorf("%w: sas needs hub, device and key", config.ErrInvalid)
			}
			tok, err := telemetry.SASToken(cfg.AzureHub, cfg.AzureDeviceID, cfg.AzureDeviceKey, time.Now().Add(cfg.AzureSASTTL))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&properties, "properties", "", "properties file (default $FARMTECH_PROPERTIES)")
	cmd.Flags().StringVar(&hub, "hub", "", "IoT Hub name or host")
	cmd.Flags().StringVar(&device, "device", "", "device id")
	cmd.Flags().StringVar(&key, "key", "", "base64 device primary key")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
