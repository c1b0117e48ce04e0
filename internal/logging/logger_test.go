package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level   string
		logged  []string
		dropped []string
	}{
		{
			level:  "trace",
			logged: []string{"trace message", "debug message", "info message"},
		},
		{
			level:   "debug",
			logged:  []string{"debug message", "info message"},
			dropped: []string{"trace message"},
		},
		{
			level:   "info",
			logged:  []string{"info message", "warn message"},
			dropped: []string{"trace message", "debug message"},
		},
		{
			level:   "warn",
			logged:  []string{"warn message", "error message"},
			dropped: []string{"info message"},
		},
		{
			level:   "error",
			logged:  []string{"error message"},
			dropped: []string{"warn message"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Level: tt.level, Output: &buf})

			logger.Trace().Msg("trace message")
			logger.Debug().Msg("debug message")
			logger.Info().Msg("info message")
			logger.Warn().Msg("warn message")
			logger.Error().Msg("error message")

			output := buf.String()
			for _, msg := range tt.logged {
				assert.Contains(t, output, msg)
			}
			for _, msg := range tt.dropped {
				assert.NotContains(t, output, msg)
			}
		})
	}
}

func TestNewWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithComponent(Config{Level: "info", Output: &buf}, "executor")

	logger.Info().Msg("case finished")

	assert.Contains(t, buf.String(), `"component":"executor"`)
	assert.Contains(t, buf.String(), "case finished")
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Pretty: true, Output: &buf})

	logger.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestNew_DefaultOutput(t *testing.T) {
	logger := New(Config{Level: "error"})
	logger.Debug().Msg("not written anywhere")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "warn", cfg.Level)
	assert.Equal(t, os.Stderr, cfg.Output)
}

func TestParseLevel_Unknown(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("verbose"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(""))
}

func TestIsTerminal_Nil(t *testing.T) {
	assert.False(t, IsTerminal(nil))
}
