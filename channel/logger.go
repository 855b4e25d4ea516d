package channel

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns the channel package's logger instance.
// It uses a no-op logger by default.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures the channel package's logger.
// This must be called before any sessions are created; sessions created
// with WithLogger ignore it.
func SetLogger(l *zap.Logger) {
	logger = l
}
