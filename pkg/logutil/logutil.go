// Copyright 2022 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logutil sets up the process-wide zap logger used throughout the
// storage engine. Every call site logs through the package-level helpers
// (Info, Error, ...) rather than holding its own *zap.Logger, so a single
// SetupLogger call changes sinks and level for the whole process.
package logutil

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/corvusdb/corvus/pkg/common/moerr"
)

// internalFieldKeyNoopReport marks a log record as exempt from the report
// sink, used by call sites that log on the hot path and don't want the
// extra encode cost.
const internalFieldKeyNoopReport = "internal_noop_report"

// LogConfig drives SetupLogger. It is typically decoded from the engine's
// toml configuration file alongside the buffer pool's own Config.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	Filename   string `toml:"filename"`
	MaxSize    int    `toml:"max-size"`
	MaxDays    int    `toml:"max-days"`
	MaxBackups int    `toml:"max-backups"`

	// DisableStore turns off the secondary report sink, a second core
	// that writes every record to io.Discard.
	DisableStore bool `toml:"disable-store"`

	// StacktraceLevel defaults to "fatal" when empty.
	StacktraceLevel string `toml:"stacktrace-level"`
}

// ZapSink pairs an encoder with the syncer it writes to; SetupLogger turns
// each one into a zapcore.Core and tees them together.
type ZapSink struct {
	encoder zapcore.Encoder
	syncer  zapcore.WriteSyncer
}

func (c *LogConfig) getLevel() zap.AtomicLevel {
	var lvl zapcore.Level
	if c.Level == "" {
		lvl = zapcore.InfoLevel
	} else if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	return zap.NewAtomicLevelAt(lvl)
}

func (c *LogConfig) getOptions() []zap.Option {
	stacktrace := zapcore.FatalLevel
	if c.StacktraceLevel != "" {
		_ = stacktrace.UnmarshalText([]byte(c.StacktraceLevel))
	}
	return []zap.Option{
		zap.AddStacktrace(stacktrace),
		zap.AddCaller(),
	}
}

func getConsoleSyncer() zapcore.WriteSyncer {
	return zapcore.AddSync(os.Stdout)
}

func (c *LogConfig) getSyncer() zapcore.WriteSyncer {
	if c.Filename == "" {
		return getConsoleSyncer()
	}
	if info, err := os.Stat(c.Filename); err == nil && info.IsDir() {
		panic("log file can't be a directory")
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   c.Filename,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxDays,
		MaxBackups: c.MaxBackups,
	})
}

// zapTimeEncoder formats like "2006/01/02 15:04:05.000000 -0700", matching
// the timestamp style the rest of the engine's logs use.
func zapTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006/01/02 15:04:05.000000 -0700"))
}

func getLoggerEncoder(format string) zapcore.Encoder {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapTimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encCfg.ConsoleSeparator = " "

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(encCfg)
	default:
		return zapcore.NewConsoleEncoder(encCfg)
	}
}

func (c *LogConfig) getEncoder() zapcore.Encoder {
	return getLoggerEncoder(c.Format)
}

func (c *LogConfig) getSinks() []ZapSink {
	sinks := []ZapSink{{c.getEncoder(), c.getSyncer()}}
	if !c.DisableStore {
		sinks = append(sinks, ZapSink{c.getEncoder(), zapcore.AddSync(io.Discard)})
	}
	return sinks
}

var (
	globalLoggerMu sync.Mutex
	globalLogger   atomic.Value // *zap.Logger
	globalConfig   = &LogConfig{}
)

func init() {
	globalLogger.Store(zap.NewNop())
}

// SetupLogger rebuilds the global logger from conf, tearing down any
// previous sinks. It panics on a malformed configuration since it only
// ever runs once at process startup.
func SetupLogger(conf *LogConfig) {
	switch conf.Format {
	case "console", "json":
	default:
		panic(moerr.NewInternalError(context.TODO(), "unsupported log format: %s", conf.Format))
	}

	level := conf.getLevel()
	var cores []zapcore.Core
	for _, sink := range conf.getSinks() {
		cores = append(cores, zapcore.NewCore(sink.encoder, sink.syncer, level))
	}
	core := zapcore.NewTee(cores...)
	logger := zap.New(core, conf.getOptions()...)

	globalLoggerMu.Lock()
	globalLogger.Store(logger)
	globalConfig = conf
	globalLoggerMu.Unlock()
}

func getGlobalLogConfig() *LogConfig {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	return globalConfig
}

// GetGlobalLogger returns the process-wide logger installed by the most
// recent SetupLogger call, or a no-op logger before one has run.
func GetGlobalLogger() *zap.Logger {
	return globalLogger.Load().(*zap.Logger)
}

func noopContextField(_ context.Context) zap.Field {
	return zap.String("span", "{}")
}

var contextFieldFunc atomic.Value // func(context.Context) zap.Field

func init() {
	contextFieldFunc.Store(noopContextField)
}

// GetContextFieldFunc returns the function used to derive a tracing field
// from a context.Context. Callers that wire in a tracer replace it with
// SetContextFieldFunc; by default it is a no-op.
func GetContextFieldFunc() func(context.Context) zap.Field {
	return contextFieldFunc.Load().(func(context.Context) zap.Field)
}

// SetContextFieldFunc overrides the tracing field extractor installed by
// GetContextFieldFunc.
func SetContextFieldFunc(f func(context.Context) zap.Field) {
	contextFieldFunc.Store(f)
}

// ContextFields packages GetContextFieldFunc as a zap.Option, for use with
// (*zap.Logger).WithOptions at each call site.
func ContextFields() func(context.Context) zap.Option {
	return func(ctx context.Context) zap.Option {
		return zap.Fields(GetContextFieldFunc()(ctx))
	}
}

func noopReportZap(_ zapcore.Encoder, _ zapcore.Entry, _ []zapcore.Field) (*buffer.Buffer, error) {
	return buffer.NewPool().Get(), nil
}

// NoReportFiled marks a log line as exempt from the report sink.
func NoReportFiled() zap.Field {
	return zap.Bool(internalFieldKeyNoopReport, true)
}

func Info(msg string, fields ...zap.Field) {
	GetGlobalLogger().Info(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetGlobalLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetGlobalLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetGlobalLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetGlobalLogger().Fatal(msg, fields...)
}
