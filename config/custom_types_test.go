/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestByteSizeUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    ByteSize
		wantErr bool
	}{
		{"valid integer", `1024`, ByteSize(1024), false},
		{"valid human-readable", `"10MB"`, ByteSize(10 * 1024 * 1024), false},
		{"valid k8s power-of-two", `"1Gi"`, ByteSize(1024 * 1024 * 1024), false},
		{"negative integer", `-1`, 0, true},
		{"garbage", `"10XB"`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b ByteSize
			err := json.Unmarshal([]byte(tt.data), &b)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, b)
		})
	}
}

func TestByteSizeUnmarshalYAML(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    ByteSize
		wantErr bool
	}{
		{"valid integer", "size: 2048", ByteSize(2048), false},
		{"valid human-readable", "size: 20MB", ByteSize(20 * 1024 * 1024), false},
		{"garbage", "size: hello", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg struct{ Size ByteSize }
			err := yaml.Unmarshal([]byte(tt.data), &cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, cfg.Size)
		})
	}
}

func TestByteSizeMarshal(t *testing.T) {
	b := ByteSize(10 * 1024 * 1024)
	require.Equal(t, "10M", b.String())

	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.Equal(t, `"10M"`, string(data))
}
