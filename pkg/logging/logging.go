// Package logging provides the structured logger used across the engine,
// transports, and supporting packages. The interface shape matches the
// teacher's pkg/orchestrator.Logger (Debug/Info/Warn/Error with variadic
// key-value args) so call sites read identically; the production
// implementation is backed by go.uber.org/zap's sugared logger instead of
// a no-op.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the logging contract shared by every package in this module.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOp discards every log line; used in tests and as a safe zero value.
type NoOp struct{}

func (NoOp) Debug(string, ...interface{}) {}
func (NoOp) Info(string, ...interface{})  {}
func (NoOp) Warn(string, ...interface{})  {}
func (NoOp) Error(string, ...interface{}) {}

// zapLogger adapts a zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewProduction builds a JSON-structured, info-level-and-above Logger
// suitable for running against Asterisk in production.
func NewProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

// NewDevelopment builds a human-readable, debug-level Logger for local
// development and CLI use.
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

func (z *zapLogger) Debug(msg string, args ...interface{}) { z.s.Debugw(msg, args...) }
func (z *zapLogger) Info(msg string, args ...interface{})  { z.s.Infow(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...interface{})  { z.s.Warnw(msg, args...) }
func (z *zapLogger) Error(msg string, args ...interface{}) { z.s.Errorw(msg, args...) }
