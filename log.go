package yolo2ls

import (
	"sync"

	"go.uber.org/zap"
)

var (
	logMu sync.RWMutex
	sugar = zap.NewNop().Sugar()
)

// SetLogger installs l as the logger for all conversion functions. A nil l disables logging.
//
// Nothing is logged until SetLogger is called.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}

	logMu.Lock()
	defer logMu.Unlock()
	sugar = l.Sugar()
}

// logger returns the active sugared logger.
func logger() *zap.SugaredLogger {
	logMu.RLock()
	defer logMu.RUnlock()
	return sugar
}
