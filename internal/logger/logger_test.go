package logger

import (
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want log.Level
	}{
		{"debug", "debug", log.DebugLevel},
		{"warning alias", "WARNING", log.WarnLevel},
		{"error padded", " error ", log.ErrorLevel},
		{"unknown falls back", "verbose", log.InfoLevel},
		{"empty falls back", "", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestSetLevelEmptyKeepsCurrent(t *testing.T) {
	prev := Logger.GetLevel()
	defer Logger.SetLevel(prev)

	SetLevel("error")
	assert.Equal(t, log.ErrorLevel, Logger.GetLevel())

	SetLevel("")
	assert.Equal(t, log.ErrorLevel, Logger.GetLevel())
}
