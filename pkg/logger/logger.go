// Licensed to LinDB under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. LinDB licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package logger provides the tagged/levelled sink every core component
// calls into. It never blocks the caller and is safe for concurrent use
// from the reactor goroutine, worker goroutines, or any caller thread.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Field is a structured logging field, constructed by String/Error/Any etc.
type Field = zap.Field

// String builds a string field.
func String(key, value string) Field { return zap.String(key, value) }

// Int builds an int field.
func Int(key string, value int) Field { return zap.Int(key, value) }

// Error builds an error field under the conventional "error" key.
func Error(err error) Field { return zap.Error(err) }

// Any builds a field from an arbitrary value.
func Any(key string, value interface{}) Field { return zap.Any(key, value) }

// Config controls the global logging sink. It is configuration set once at
// init; the sink it describes is package-level state, replaced by
// InitLogger behind a dedicated lock.
type Config struct {
	Level      string `toml:"level"`
	Path       string `toml:"path"`
	MaxSizeMB  int    `toml:"max-size"`
	MaxBackups int    `toml:"max-backups"`
	MaxAgeDays int    `toml:"max-age"`
}

var (
	mu      sync.RWMutex
	base    *zap.Logger
	loggers = make(map[string]*Logger)
)

func init() {
	base = newBase(Config{Level: "info"})
}

// InitLogger installs the sink described by cfg. Safe to call once at
// process startup; existing *Logger handles pick up the new backend.
func InitLogger(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	base = newBase(cfg)
}

func newBase(cfg Config) *zap.Logger {
	level := zapcore.InfoLevel
	_ = level.UnmarshalText([]byte(cfg.Level))

	var ws zapcore.WriteSyncer
	if cfg.Path != "" {
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
		})
	} else {
		ws = zapcore.AddSync(os.Stderr)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), ws, level)
	return zap.New(core)
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

// Logger is a tagged (module, component) handle onto the global sink.
type Logger struct {
	module    string
	component string
}

// GetLogger returns the (cached) logger tagged with module and component.
func GetLogger(module, component string) *Logger {
	key := module + "/" + component
	mu.RLock()
	l, ok := loggers[key]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if l, ok = loggers[key]; ok {
		return l
	}
	l = &Logger{module: module, component: component}
	loggers[key] = l
	return l
}

func (l *Logger) zap() *zap.Logger {
	mu.RLock()
	b := base
	mu.RUnlock()
	return b.With(zap.String("module", l.module), zap.String("component", l.component))
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, fields ...Field) { l.zap().Debug(msg, fields...) }

// Info logs at info level.
func (l *Logger) Info(msg string, fields ...Field) { l.zap().Info(msg, fields...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string, fields ...Field) { l.zap().Warn(msg, fields...) }

// Error logs at error level.
func (l *Logger) Error(msg string, fields ...Field) { l.zap().Error(msg, fields...) }
