package notify

import (
	"log/slog"

	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
)

// Slog renders notifications through structured logging, for headless
// processes that have no user-facing surface.
type Slog struct {
	logger *slog.Logger
}

var _ ports.Notifier = (*Slog)(nil)

func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

func (n *Slog) Error(message string) {
	n.logger.Error("notification", "severity", "error", "message", message)
}

func (n *Slog) Success(message string) {
	n.logger.Info("notification", "severity", "success", "message", message)
}
