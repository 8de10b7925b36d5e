// Package logging sets up the daemon's process-wide log sink: every line
// goes to stderr and to the configured logfile as
// "MMM DD HH:MM:SS - LEVEL - MESSAGE".
package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:  "msg",
		LevelKey:    "level",
		TimeKey:     "time",
		EncodeLevel: zapcore.CapitalLevelEncoder,
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("Jan 02 15:04:05"))
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " - ",
	}
}

// Init builds the tee logger. The logfile is opened in append mode and
// created if absent; failure to open it is a startup error. The file sink
// rotates through lumberjack so a busy jail cannot fill the disk.
func Init(logfile string) (*zap.SugaredLogger, error) {
	f, err := os.OpenFile(logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("could not open logfile %s: %w", logfile, err)
	}
	f.Close()

	enc := zapcore.NewConsoleEncoder(encoderConfig())
	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logfile,
		MaxSize:    100, // MB
		MaxBackups: 3,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), zapcore.InfoLevel),
		zapcore.NewCore(enc, fileSink, zapcore.InfoLevel),
	)
	return zap.New(core).Sugar(), nil
}
