package logging

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	sampleTick       = time.Second
	sampleFirst      = 100
	sampleThereafter = 10
)

// newCore builds the redacting writer core, sampled below Error when enabled.
func newCore(cfg *Config) (zapcore.Core, error) {
	encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
	}

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stdout)
	if cfg.Output != nil {
		sink = zapcore.Lock(zapcore.AddSync(cfg.Output))
	}
	core := zapcore.NewCore(encoder, sink, cfg.Level)
	if !cfg.Sample {
		return core, nil
	}

	severe := &levelBand{Core: core, min: zapcore.ErrorLevel, max: zapcore.FatalLevel}
	chatter := &levelBand{Core: core, min: TraceLevel, max: zapcore.WarnLevel}
	return zapcore.NewTee(severe, zapcore.NewSamplerWithOptions(chatter, sampleTick, sampleFirst, sampleThereafter)), nil
}

func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// levelBand admits only entries within [min, max].
type levelBand struct {
	zapcore.Core
	min, max zapcore.Level
}

func (c *levelBand) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.min && lvl <= c.max && c.Core.Enabled(lvl)
}

func (c *levelBand) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelBand) With(fields []zapcore.Field) zapcore.Core {
	return &levelBand{Core: c.Core.With(fields), min: c.min, max: c.max}
}
