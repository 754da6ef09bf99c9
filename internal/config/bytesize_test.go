package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected ByteSize
		wantErr  bool
	}{
		{"bytes", "1024", 1024, false},
		{"si kilobytes", "5KB", 5 * 1000, false},
		{"binary kilobytes", "5KiB", 5 * 1024, false},
		{"binary megabytes", "10MiB", 10 * 1024 * 1024, false},
		{"gigabytes", "2GB", 2 * 1000 * 1000 * 1000, false},
		{"with space", "5 MiB", 5 * 1024 * 1024, false},
		{"lowercase", "5mib", 5 * 1024 * 1024, false},
		{"float", "1.5MiB", ByteSize(1.5 * 1024 * 1024), false},
		{"zero", "0", 0, false},
		{"invalid", "invalid", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, err := ParseByteSize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, size)
		})
	}
}

func TestByteSize_UnmarshalText(t *testing.T) {
	var b ByteSize
	err := b.UnmarshalText([]byte("5MiB"))
	require.NoError(t, err)
	assert.Equal(t, ByteSize(5*1024*1024), b)
}

func TestByteSize_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		json     string
		expected ByteSize
	}{
		{"string format", `"5MiB"`, 5 * 1024 * 1024},
		{"string with space", `"5 MiB"`, 5 * 1024 * 1024},
		{"bytes int", `5242880`, 5242880},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize
			require.NoError(t, json.Unmarshal([]byte(tt.json), &b))
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestByteSize_StringRoundTrips(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{0, "0 B"},
		{1000, "1000 B"},
		{1537, "1537 B"},
		{5 * 1024, "5 KiB"},
		{64 * 1024 * 1024, "64 MiB"},
		{3 * 1024 * 1024 * 1024, "3 GiB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.size.String())
			back, err := ParseByteSize(tt.size.String())
			require.NoError(t, err)
			assert.Equal(t, tt.size, back)
		})
	}
}

func TestByteSize_Human(t *testing.T) {
	assert.Equal(t, "1.5 KiB", ByteSize(1536).Human())
}

func TestByteSize_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(ByteSize(2 * 1024 * 1024))
	require.NoError(t, err)
	assert.Equal(t, `"2 MiB"`, string(data))
}
