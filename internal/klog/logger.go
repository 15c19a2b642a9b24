// Package klog provides the kernel's structured logging facade.
//
// Grounded on two teacher shapes: the narrow Logger interface used throughout
// coreengine/kernel (Debug/Info/Warn/Error, coreengine/kernel/resources.go)
// and the richer canonical one in commbus/protocols.go which adds
// Bind(args...) Logger for building a sub-logger with fixed fields. This
// package keeps both method sets on one interface and backs the production
// implementation with go.uber.org/zap instead of the teacher's log.Printf
// stdLogger (cmd/main.go), since zap is a real structured logger present in
// the retrieved example pack.
package klog

import "go.uber.org/zap"

// Logger is the logging contract every subsystem depends on.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Bind(args ...any) Logger
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production Logger backed by a zap.SugaredLogger.
func New() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything; useful in tests.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l *zapLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l *zapLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

func (l *zapLogger) Bind(args ...any) Logger {
	return &zapLogger{s: l.s.With(args...)}
}
