// Package logging builds the server's zap logger.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects the logger flavor and destination.
type Options struct {
	Dev bool
	// File, when set, receives JSON logs rotated by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns the logger and a closer for its output. Without a file it is
// zap's production (or development) preset on stderr.
func New(o Options) (*zap.Logger, io.Closer, error) {
	if o.File == "" {
		var (
			l   *zap.Logger
			err error
		)
		if o.Dev {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		return l, nopCloser{}, err
	}

	rot := &lumberjack.Logger{
		Filename:   o.File,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		Compress:   true,
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.InfoLevel
	if o.Dev {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(rot), level)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)), rot, nil
}
