// temporal/client.go
package temporal

import (
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"

	"newton/config"
)

// NewClient dials the Temporal frontend described by cfg.
func NewClient(cfg config.TemporalConfig, logger *slog.Logger) (client.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	hostPort := cfg.Address
	if hostPort == "" {
		hostPort = client.DefaultHostPort
	}
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: cfg.Namespace,
		Logger:    NewLogger(logger.With("component", "temporal")),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", hostPort, err)
	}
	logger.Info("Temporal client connected", "address", hostPort, "namespace", cfg.Namespace)
	return c, nil
}
