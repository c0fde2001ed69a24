package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "collector.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeTempConfig(t, `
logging:
  level: debug
devices:
  - id: plc1
    tenant_id: t1
    protocol: modbus_tcp
    host: 10.0.0.5
    port: 502
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 100_000, cfg.Queue.Capacity, "unset queue fields keep their default")
	assert.Len(t, cfg.Devices, 1)
	assert.Equal(t, "plc1", cfg.Devices[0].ID)
}

func TestValidateRejectsDuplicateDeviceIDs(t *testing.T) {
	path := writeTempConfig(t, `
devices:
  - id: plc1
    protocol: modbus_tcp
  - id: plc1
    protocol: mqtt
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownProtocol(t *testing.T) {
	path := writeTempConfig(t, `
devices:
  - id: plc1
    protocol: carrier-pigeon
`)
	_, err := Load(path)
	assert.Error(t, err)
}
