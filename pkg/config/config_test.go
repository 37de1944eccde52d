package config

import (
	"io/ioutil"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v2"
)

func TestConfigDecode(t *testing.T) {
	data := `
aliases:
  break: ["stop-at"]
entry-function: main.start
max-backtrace-depth: 16
show-source: false
`
	c := defaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte(data), c))

	assert.Equal(t, []string{"stop-at"}, c.Aliases["break"])
	assert.Equal(t, "main.start", c.EntryFunction)
	assert.Equal(t, 16, c.MaxBacktraceDepth)
	assert.False(t, c.ShowSource)
}

func TestConfigDefaults(t *testing.T) {
	c := defaultConfig()
	assert.Equal(t, DefaultEntryFunction, c.EntryFunction)
	assert.Equal(t, DefaultMaxBacktraceDepth, c.MaxBacktraceDepth)
	assert.True(t, c.ShowSource)
}

// The shipped config file is all comments; decoding it must leave the
// defaults untouched.
func TestDefaultConfigFileIsInert(t *testing.T) {
	f, err := ioutil.TempFile("", "sdb-config")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	defer f.Close()

	require.NoError(t, writeDefaultConfig(f))

	data, err := ioutil.ReadFile(f.Name())
	require.NoError(t, err)

	c := defaultConfig()
	require.NoError(t, yaml.Unmarshal(data, c))
	assert.Equal(t, defaultConfig(), c)
}

func TestGetConfigFilePath(t *testing.T) {
	p, err := GetConfigFilePath("config.yml")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, ".sdb/config.yml"), "got %s", p)

	h, err := HistoryFilePath()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(h, ".sdb/history"), "got %s", h)
}
