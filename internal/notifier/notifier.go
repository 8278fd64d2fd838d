// Package notifier defines the one-way alert delivery interface (spec §6)
// and a stdout fallback used when no external transport is configured.
package notifier

import (
	"fmt"

	"github.com/surveil/smartmoney/internal/logger"
)

// Notifier delivers a formatted message and reports delivery success.
type Notifier interface {
	Send(text string) error
}

// Stdout is the config-missing downgrade path of spec §7: log alerts to
// stdout instead of crashing when no notifier credentials are configured.
type Stdout struct{}

// Send always succeeds, writing the message via the structured logger.
func (Stdout) Send(text string) error {
	logger.Info("notifier(stdout): %s", text)
	fmt.Println(text)
	return nil
}
