package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVenuesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "venues.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadVenuesKeepsFileOrder(t *testing.T) {
	path := writeVenuesFile(t, `
venues:
  - name: alpaca
    kind: equity
    base_url: https://paper-api.example.com/v2
    enabled: true
  - name: binance
    kind: crypto
    base_url: https://testnet.example.com
    websocket_url: wss://testnet.example.com/ws
    enabled: true
`)

	venues, err := LoadVenues(path)
	require.NoError(t, err)
	require.Len(t, venues, 2)
	assert.Equal(t, "alpaca", venues[0].Name)
	assert.Equal(t, "equity", venues[0].Kind)
	assert.Equal(t, "binance", venues[1].Name)
	assert.Equal(t, "wss://testnet.example.com/ws", venues[1].WebsocketURL)
}

func TestLoadVenuesSkipsDisabled(t *testing.T) {
	path := writeVenuesFile(t, `
venues:
  - name: alpaca
    kind: equity
    enabled: false
  - name: binance
    kind: crypto
    enabled: true
`)

	venues, err := LoadVenues(path)
	require.NoError(t, err)
	require.Len(t, venues, 1)
	assert.Equal(t, "binance", venues[0].Name)
}

func TestLoadVenuesMissingFileIsNotAnError(t *testing.T) {
	venues, err := LoadVenues(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Nil(t, venues)
}

func TestLoadVenuesRejectsMalformedYAML(t *testing.T) {
	path := writeVenuesFile(t, "venues: [not: closed")
	_, err := LoadVenues(path)
	assert.Error(t, err)
}
