// v0
// cmd/farmtech/broker.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tsromanox/FarmTech/internal/devbroker"
	"github.com/tsromanox/FarmTech/internal/logging"
)

func newBrokerCommand() *cobra.Command {
	var listen, topic string
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run an embedded MQTT broker that logs incoming telemetry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			lg, logFile := logging.Init(os.Getenv("LOG_LEVEL"))
			if logFile != nil {
				defer logFile.Close()
			}
			b, err := devbroker.New(listen, topic, logging.Component(lg, "broker"), nil)
			if err != nil {
				return err
			}
			b.Start()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			b.Stop(sctx)
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":1883", "listen address")
	cmd.Flags().StringVar(&topic, "topic", "sensor/data", "telemetry topic to decode; empty observes all")
	return cmd
}
