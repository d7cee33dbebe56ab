package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSample(t *testing.T) {
	c, err := Load("config.yml")
	require.NoError(t, err)

	assert.Equal(t, 0, c.LogLevel)
	assert.Equal(t, "127.0.0.1:6379", c.RedisCredential.GetRedisAddress())
	assert.Equal(t, time.Hour, c.Sessions.TTL)
	assert.Equal(t, "gamestop", c.Injected.WalletName)
	assert.Equal(t, 56, c.Injected.Network.ChainID)
	assert.True(t, c.Injected.Network.CanAdd())

	opts := c.WalletConnect.Options()
	p, ok := opts.Selected()
	require.True(t, ok)
	assert.Equal(t, "moff-wallet-connector", p.ProjectID)
	assert.Equal(t, 5*time.Minute, p.ReadTimeout)
	assert.Equal(t, []string{"https://moff.io/favicon.ico"}, p.Metadata.Icons)

	assert.Equal(t, "bsc", c.Chains.Table().Lookup(56).Key)
	assert.Equal(t, "host=127.0.0.1 port=5432 user=postgres password= dbname=wallet", c.Postgres.Dsn())
	assert.Equal(t, "ap-southeast-1", c.Aws.Region)
}

func TestLoadDefaultsAndChainOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte(`
chains:
  ids:
    1337: local
  networks:
    local:
      chain_id: 1337
      name: Localnet
`), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.HTTP.Addr)
	assert.Equal(t, 1, c.Injected.Network.ChainID)
	assert.Equal(t, 100, c.Sessions.MaxPending)

	table := c.Chains.Table()
	require.NotNil(t, table.Lookup(1337))
	assert.Equal(t, "Localnet", table.Lookup(1337).Name)
	assert.Nil(t, table.Lookup(1))
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, ioutil.WriteFile(path, []byte("injected:\n  network:\n    chain_id: 0\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
