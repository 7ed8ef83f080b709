// Copyright (c) 2020 Meng Huang (mhboy@outlook.com)
// This package is licensed under a MIT license that can be found in the LICENSE file.

package reactor

import (
	"sync"

	"github.com/rs/zerolog"
)

var logMu sync.RWMutex

// logger is the package logger. It starts as zerolog.Nop(), which discards
// everything, so the library stays silent unless the caller installs a sink.
var logger = zerolog.Nop()

// SetLogger installs the logger used by the whole package.
func SetLogger(l zerolog.Logger) {
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

func logTrace() *zerolog.Event {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.Trace()
}

func logInfo() *zerolog.Event {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.Info()
}

func logWarn() *zerolog.Event {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.Warn()
}

func logError() *zerolog.Event {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.Error()
}

// logFatal logs at fatal level and always terminates. WithLevel carries
// no exit hook and the default Nop logger discards fatal events entirely,
// so the panic is what guarantees the abort.
func logFatal(err error, msg string) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	l.WithLevel(zerolog.FatalLevel).Err(err).Msg(msg)
	panic("reactor: " + msg)
}
