package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig())
		require.NoError(t, err)
		assert.True(t, logger.Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg)
		require.Error(t, err)
	})

	t.Run("writes redacted json to output", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := NewDefaultConfig()
		cfg.Output = &buf

		logger, err := NewLogger(cfg)
		require.NoError(t, err)
		logger.Info(context.Background(), "store registered", zap.String("dsn", "file:main.db"))

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "store registered", entry["msg"])
		assert.Equal(t, "federated", entry["service"])
		assert.Equal(t, redacted, entry["dsn"])
		assert.NotEmpty(t, entry["caller"])
	})
}

func TestNewLogger_SamplingSparesErrors(t *testing.T) {
	var buf bytes.Buffer
	cfg := NewDefaultConfig()
	cfg.Output = &buf
	cfg.Fields = nil

	logger, err := NewLogger(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 500; i++ {
		logger.Info(ctx, "file indexed")
		logger.Error(ctx, "store query failed")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var infos, errs int
	for _, line := range lines {
		switch {
		case strings.Contains(line, "file indexed"):
			infos++
		case strings.Contains(line, "store query failed"):
			errs++
		}
	}
	assert.Equal(t, 500, errs)
	assert.Less(t, infos, 500)
	assert.GreaterOrEqual(t, infos, sampleFirst)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }},
		{"empty field value", func(c *Config) { c.Fields = map[string]string{"k": ""} }},
		{"empty field key", func(c *Config) { c.Fields = map[string]string{"": "v"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithOperationID(context.Background(), "op-1")
	ctx = WithRequestID(ctx, "req-9")

	tl.Info(ctx, "scan finished", zap.Int("violations", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "scan finished")
	tl.AssertField(t, "scan finished", "operation.id", "op-1")
	tl.AssertField(t, "scan finished", "request.id", "req-9")
	tl.AssertField(t, "scan finished", "violations", int64(3))
}

func TestLogger_ChildLoggers(t *testing.T) {
	tl := NewTestLogger()
	child := tl.Named("search").With(zap.String("store", "search_shard_1"))

	child.Warn(context.Background(), "shard timed out")

	entries := tl.FilterMessage("shard timed out").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "search", entries[0].LoggerName)
	assert.Equal(t, "search_shard_1", entries[0].ContextMap()["store"])
}

func TestLogger_TraceLevel(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "shard scored")
	tl.AssertLogged(t, TraceLevel, "shard scored")
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	assert.Same(t, tl.Logger, FromContext(ctx))
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	zl := zap.New(core).With(zap.String("token", "abc"))

	zl.Info("store registered",
		zap.String("dsn", "postgres://user:pw@host/db"),
		zap.String("header", "Bearer xyz"),
		zap.String("store", "main"),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, redacted, entry["token"])
	assert.Equal(t, redacted, entry["dsn"])
	assert.Equal(t, redactedPattern, entry["header"])
	assert.Equal(t, "main", entry["store"])
}

func TestRedactedString(t *testing.T) {
	f := RedactedString("api_key", "12345")
	assert.Equal(t, "[REDACTED:5]", f.String)
}
