package config

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	secret := base64.StdEncoding.EncodeToString([]byte("super-secret"))

	tcases := []struct {
		name           string
		serverAddr     string
		dataDir        string
		base64Secret   string
		allowedOrigins []string
		expectErr      bool
	}{
		{
			name:           "valid config",
			serverAddr:     "localhost:8000",
			dataDir:        "./data",
			base64Secret:   secret,
			allowedOrigins: []string{"http://localhost:8000"},
			expectErr:      false,
		},
		{
			name:         "missing server address",
			dataDir:      "./data",
			base64Secret: secret,
			expectErr:    true,
		},
		{
			name:         "missing data directory",
			serverAddr:   "localhost:8000",
			base64Secret: secret,
			expectErr:    true,
		},
		{
			name:       "missing signing secret",
			serverAddr: "localhost:8000",
			dataDir:    "./data",
			expectErr:  true,
		},
		{
			name:         "invalid base64 secret",
			serverAddr:   "localhost:8000",
			dataDir:      "./data",
			base64Secret: "not-base64!!!",
			expectErr:    true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.serverAddr, tc.dataDir, tc.base64Secret, tc.allowedOrigins)
			if tc.expectErr {
				assert.Error(t, err, "expected an error")
				assert.Nil(t, cfg, "expected no config on error")
				return
			}

			require.NoError(t, err, "expected no error")
			assert.Equal(t, tc.serverAddr, cfg.ServerAddr)
			assert.Equal(t, tc.dataDir, cfg.DataDir)
			assert.Equal(t, []byte("super-secret"), cfg.SigningKey, "expected secret decoded")
			assert.Equal(t, tc.allowedOrigins, cfg.AllowedOrigins)
		})
	}
}
