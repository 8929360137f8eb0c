// Package obslog is OJP's structured-logging facade: a zap logger backed by
// lumberjack rotation, adapted from the teacher toolkit's flog package
// (flog/logger.go, flog/tee.go) and trimmed to what a headless gRPC server
// needs (no console color output, no remote-log sink).
package obslog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
)

// Options configures the process-wide logger. Filename empty means
// stderr-only; Filename set adds a rotating file sink, and stderr is kept
// alongside it only when Console is true.
type Options struct {
	Level      Level
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

// New builds a *zap.Logger per Options. Mirrors flog.New's encoder-config
// shape but always uses a production JSON encoder: OJP has no development
// console mode, it is a server process.
func New(opt Options) *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(cfg)

	al := zap.NewAtomicLevelAt(opt.Level)

	var cores []zapcore.Core
	if opt.Console || opt.Filename == "" {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stderr)), al))
	}
	if opt.Filename != "" {
		sink := &lumberjack.Logger{
			Filename:   opt.Filename,
			MaxSize:    nonZero(opt.MaxSizeMB, 100),
			MaxBackups: nonZero(opt.MaxBackups, 5),
			MaxAge:     nonZero(opt.MaxAgeDays, 3),
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(sink), al))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Session, ConnHash, RPC and ClientID are field constructors that give log
// lines a consistent, greppable key name.
func Session(id string) zap.Field   { return zap.String("session_id", id) }
func ConnHash(h string) zap.Field   { return zap.String("conn_hash", h) }
func RPC(name string) zap.Field     { return zap.String("rpc", name) }
func ClientID(id string) zap.Field  { return zap.String("client_id", id) }
