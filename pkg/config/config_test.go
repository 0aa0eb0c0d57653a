package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
broker:
  name: central
  instance_id: 12
  cache_dir: /var/lib/relay
log:
  level: debug
  json: true
muxer:
  high_watermark: 500
  max_disk_bytes: 1073741824
  compress: true
bbdo:
  ack_limit: 100
  resync: false
  extensions: [compression]
  negotiation_timeout: 5s
api:
  http_addr: 127.0.0.1:9190
  grpc_addr: 127.0.0.1:9191
endpoints:
  - name: engine-in
    direction: input
    mode: listen
    address: 0.0.0.0:5669
  - name: storage-out
    direction: output
    address: 10.0.0.5:5670
    retry_interval: 3s
    filters: [neb, "storage:1"]
  - name: dump
    direction: output
    transport: file
    path: /tmp/dump.bbdo
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "central", cfg.Broker.Name)
	assert.Equal(t, uint32(12), cfg.Broker.InstanceID)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 500, cfg.Muxer.HighWatermark)
	assert.True(t, cfg.Muxer.Compress)
	assert.True(t, cfg.Muxer.PersistOnClose, "default kept when omitted")
	assert.False(t, cfg.BBDO.Resync)
	assert.Equal(t, 5*time.Second, cfg.BBDO.NegotiationTimeout)
	assert.Equal(t, []string{"compression"}, cfg.BBDO.Extensions)
	assert.Equal(t, 10*time.Second, cfg.API.MetricsInterval)

	require.Len(t, cfg.Endpoints, 3)
	assert.Equal(t, TransportTCP, cfg.Endpoints[0].Transport)
	assert.Equal(t, ModeListen, cfg.Endpoints[0].Mode)
	assert.Equal(t, ModeConnect, cfg.Endpoints[1].Mode)
	assert.Equal(t, 3*time.Second, cfg.Endpoints[1].RetryInterval)
	assert.Equal(t, 15*time.Second, cfg.Endpoints[2].RetryInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseEmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "broker: [", "failed to parse"},
		{"bad level", "log: {level: loud}", "log.level"},
		{"negative watermark", "muxer: {high_watermark: -1}", "high_watermark"},
		{"empty name", "broker: {name: \"\"}", "broker.name"},
		{"missing direction", "endpoints: [{name: a, address: x:1}]", "direction"},
		{"bad transport", "endpoints: [{name: a, direction: input, transport: udp}]", "unknown transport"},
		{"bad mode", "endpoints: [{name: a, direction: input, mode: dial, address: x:1}]", "mode"},
		{"missing address", "endpoints: [{name: a, direction: input}]", "address"},
		{"missing path", "endpoints: [{name: a, direction: output, transport: file}]", "path"},
		{"input filters", "endpoints: [{name: a, direction: input, address: x:1, filters: [neb]}]", "filters"},
		{"bad filter", "endpoints: [{name: a, direction: output, address: x:1, filters: [nope]}]", "nope"},
		{"duplicate names", "endpoints: [{name: a, direction: output, address: x:1}, {name: a, direction: output, address: x:2}]", "duplicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
