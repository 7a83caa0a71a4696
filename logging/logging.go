// Package logging builds the zap logger used by every component.
package logging

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/barnybug/feedmux/config"
)

func consoleEncoder() zapcore.Encoder {
	conf := zap.NewDevelopmentEncoderConfig()
	conf.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("15:04:05.000"))
	}
	conf.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewConsoleEncoder(conf)
}

func jsonEncoder() zapcore.Encoder {
	conf := zap.NewProductionEncoderConfig()
	conf.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(conf)
}

// New returns a logger writing to w: console lines in development mode,
// JSON otherwise.
func New(conf config.LoggingConf, w io.Writer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if conf.Level != "" {
		if err := level.UnmarshalText([]byte(conf.Level)); err != nil {
			return nil, errors.Wrapf(err, "logging level %q", conf.Level)
		}
	}
	encoder := jsonEncoder()
	opts := []zap.Option{zap.ErrorOutput(zapcore.AddSync(w))}
	if conf.Development {
		encoder = consoleEncoder()
		opts = append(opts, zap.AddCaller(), zap.Development())
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	return zap.New(core, opts...), nil
}
