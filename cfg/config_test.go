package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, c *Configuration) {
	t.Helper()
	original := Config
	Config = c
	t.Cleanup(func() { Config = original })
}

func TestValidate_Defaults(t *testing.T) {
	c := Default()
	c.Cluster.AdvertiseAddress = "node-1:7574"
	withConfig(t, c)

	require.NoError(t, Validate())
}

func TestValidate_AutoFillsAdvertiseAddress(t *testing.T) {
	withConfig(t, Default())

	require.NoError(t, Validate())
	assert.Contains(t, Config.Cluster.AdvertiseAddress, ":7574")
}

func TestValidate_InvalidPort(t *testing.T) {
	for _, port := range []int{-1, 0, 70000} {
		c := Default()
		c.Cluster.Port = port
		withConfig(t, c)

		assert.Error(t, Validate(), "port %d", port)
	}
}

func TestValidate_TopicSettings(t *testing.T) {
	cases := map[string]func(c *Configuration){
		"channels":   func(c *Configuration) { c.Topics.ChannelCount = 0 },
		"capacity":   func(c *Configuration) { c.Topics.PageCapacity = 0 },
		"batch":      func(c *Configuration) { c.Topics.MaxBatchSize = 0 },
		"element":    func(c *Configuration) { c.Topics.MaxElementBytes = -1 },
		"timeout":    func(c *Configuration) { c.Topics.CloseTimeoutMS = 0 },
		"on_failure": func(c *Configuration) { c.Topics.OnFailure = "ignore" },
		"partitions": func(c *Configuration) { c.Grid.PartitionCount = 0 },
		"store":      func(c *Configuration) { c.Grid.Store = "s3" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default()
			c.Cluster.AdvertiseAddress = "localhost:7574"
			mutate(c)
			withConfig(t, c)

			assert.Error(t, Validate())
		})
	}
}

func TestValidate_Members(t *testing.T) {
	c := Default()
	c.Cluster.AdvertiseAddress = "localhost:7574"
	c.Cluster.Members = []MemberConfiguration{
		{ID: 1, Address: "a:1"},
		{ID: 1, Address: "b:1"},
	}
	withConfig(t, c)
	assert.ErrorContains(t, Validate(), "duplicate member")

	c.Cluster.Members = []MemberConfiguration{{ID: 2}}
	assert.ErrorContains(t, Validate(), "no address")
}

func TestValidate_Bridges(t *testing.T) {
	c := Default()
	c.Cluster.AdvertiseAddress = "localhost:7574"
	c.Bridges = []BridgeConfiguration{{Name: "out", Type: "kafka"}, {Name: "out", Type: "nats"}}
	withConfig(t, c)

	assert.ErrorContains(t, Validate(), "duplicate bridge")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	content := `
node_id = 42
data_dir = "` + filepath.ToSlash(filepath.Join(dir, "data")) + `"

[grid]
partition_count = 31
store = "pebble"

[topics]
channel_count = 3
page_capacity = 8

[[cluster.members]]
id = 42
address = "localhost:7574"

[[bridges]]
name = "orders"
type = "kafka"
topics = ["orders-*"]
brokers = ["localhost:9092"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	withConfig(t, Default())
	require.NoError(t, Load(path))

	assert.Equal(t, uint64(42), Config.NodeID)
	assert.Equal(t, 31, Config.Grid.PartitionCount)
	assert.Equal(t, StorePebble, Config.Grid.Store)
	assert.Equal(t, 3, Config.Topics.ChannelCount)
	assert.Equal(t, 8, Config.Topics.PageCapacity)
	assert.Equal(t, 256, Config.Topics.MaxBatchSize, "unset values keep defaults")
	require.Len(t, Config.Cluster.Members, 1)
	require.Len(t, Config.Bridges, 1)
	assert.Equal(t, []string{"orders-*"}, Config.Bridges[0].Topics)

	_, err := os.Stat(Config.DataDir)
	assert.NoError(t, err)
}

func TestClusterSecret(t *testing.T) {
	previous := Config
	t.Cleanup(func() { Config = previous })
	t.Setenv("GRIDTOPIC_CLUSTER_SECRET", "")

	Config = Default()
	assert.False(t, IsClusterAuthEnabled())

	Config.Cluster.ClusterSecret = "from-file"
	assert.True(t, IsClusterAuthEnabled())
	assert.True(t, ClusterSecretMatches("from-file"))
	assert.False(t, ClusterSecretMatches("from-fil"))
	assert.False(t, ClusterSecretMatches(""))

	t.Setenv("GRIDTOPIC_CLUSTER_SECRET", "from-env")
	assert.Equal(t, "from-env", GetClusterSecret())
	assert.True(t, ClusterSecretMatches("from-env"))
}
