package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint32(30000), cfg.BeaconIntervalMS)
	assert.Equal(t, uint32(300000), cfg.RouteTimeoutMS)
	assert.Equal(t, uint32(5000), cfg.AckTimeoutMS)
	assert.Equal(t, byte(3), cfg.MaxRetries)
	assert.Equal(t, byte(15), cfg.MaxTTL)
	assert.Equal(t, uint16(255), cfg.MaxPayload)
	assert.True(t, cfg.TDMAEnabled)
	assert.True(t, cfg.ForwardSecrecyEnabled)
	assert.False(t, cfg.EpidemicEnabled)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, writeFile(path, `
node_address: 1234
max_retries: 5
epidemic_enabled: true
`))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), cfg.NodeAddress)
	assert.Equal(t, byte(5), cfg.MaxRetries)
	assert.True(t, cfg.EpidemicEnabled)
	// Untouched keys keep their documented defaults.
	assert.Equal(t, uint32(30000), cfg.BeaconIntervalMS)
	assert.True(t, cfg.TDMAEnabled)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, writeFile(path, "node_address: [this is not a number"))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestFlagSetAppliesOnlyChangedFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cf := RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{"--node-address=99", "--epidemic=true"}))

	cfg := cf.Apply(Default(), fs)
	assert.Equal(t, uint32(99), cfg.NodeAddress)
	assert.True(t, cfg.EpidemicEnabled)
	// Flags not passed on the command line leave loaded values alone.
	assert.True(t, cfg.TDMAEnabled)
	assert.True(t, cfg.ForwardSecrecyEnabled)
}

func TestFlagSetHelp(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cf := RegisterFlags(fs)

	require.NoError(t, fs.Parse([]string{"--help"}))
	assert.True(t, cf.Help())
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
