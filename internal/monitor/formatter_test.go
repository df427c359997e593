package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "0.0 q/min", FormatRate(0))
	assert.Equal(t, "45.7 q/min", FormatRate(45.678))
}

func TestFormatLatency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.0123, "12.3ms"},
		{0.5, "500.0ms"},
		{1.0, "1.0s"},
		{2.5, "2.5s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatLatency(tt.in))
	}
}

func TestFormatPercentage(t *testing.T) {
	assert.Equal(t, "0.0%", FormatPercentage(0))
	assert.Equal(t, "66.7%", FormatPercentage(2.0/3.0))
	assert.Equal(t, "100.0%", FormatPercentage(1))
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{9999, "9999"},
		{12_345, "12.3k"},
		{2_500_000, "2.5M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatCount(tt.in))
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0m"},
		{59, "0m"},
		{60, "1m"},
		{3599, "59m"},
		{3600, "1h 0m"},
		{7380, "2h 3m"},
		{86400 + 7200, "1d 2h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.in))
		assert.Equal(t, tt.want, FormatUptime(tt.in))
	}
}

func TestFormatRatio(t *testing.T) {
	assert.Equal(t, "2/3", FormatRatio(2, 3))
}
