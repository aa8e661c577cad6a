package serial

import (
	"log/slog"

	"github.com/luhtfiimanal/go-ft245-serial/internal/logging"
)

// SetLogLevel sets the minimum level for driver logging. The default is Warn.
func SetLogLevel(level slog.Level) {
	logging.SetLevel(level)
}

// SetLogger replaces the logger used by every driver package.
func SetLogger(logger *slog.Logger) {
	logging.SetLogger(logger)
}
