package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"5s", 5 * time.Second, false},
		{"90d", 90 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"1w2d12h", (9*24 + 12) * time.Hour, false},
		{"3 days", 3 * 24 * time.Hour, false},
		{"-1d", -24 * time.Hour, false},
		{"", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d.Duration())
		})
	}
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected time.Duration
	}{
		{"string format", `"30d"`, 30 * 24 * time.Hour},
		{"standard hours", `"720h"`, 720 * time.Hour},
		{"nanoseconds int", `5000000000`, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			require.NoError(t, json.Unmarshal([]byte(tt.json), &d))
			assert.Equal(t, tt.expected, d.Duration())
		})
	}
}

func TestDuration_String(t *testing.T) {
	tests := []struct {
		duration Duration
		want     string
	}{
		{Duration(14 * 24 * time.Hour), "2w"},
		{Duration(9 * 24 * time.Hour), "1w2d"},
		{Duration(90 * 24 * time.Hour), "12w6d"},
		{Duration(12 * time.Hour), "12h0m0s"},
		{Duration(0), "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.duration.String())
			back, err := ParseDuration(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.duration, back)
		})
	}
}
