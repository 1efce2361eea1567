package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEloquentToggleParsing(t *testing.T) {
	cfg, err := ParseEloquent("+debug\n-verbose")
	require.NoError(t, err)
	require.Len(t, cfg.Items(), 2)

	assert.Equal(t, EloquentItem{Key: "debug", IsToggle: true, Enabled: true}, cfg.Items()[0])
	assert.Equal(t, EloquentItem{Key: "verbose", IsToggle: true, Enabled: false}, cfg.Items()[1])
}

func TestEloquentKeyValueParsing(t *testing.T) {
	cfg, err := ParseEloquent("+timeout=30\nmode=production\n^priority=high\nssl=true\nretry=1\nverbose=yes")
	require.NoError(t, err)

	s, ok := cfg.GetString("timeout")
	assert.True(t, ok)
	assert.Equal(t, "30", s)

	n, ok := cfg.GetInt("timeout")
	assert.True(t, ok)
	assert.EqualValues(t, 30, n)

	s, _ = cfg.GetString("mode")
	assert.Equal(t, "production", s)

	s, _ = cfg.GetString("priority")
	assert.Equal(t, "high", s)

	b, ok := cfg.GetBool("ssl")
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = cfg.GetBool("retry")
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = cfg.GetBool("verbose")
	assert.True(t, ok)
	assert.True(t, b)
}

func TestEloquentMixedParsing(t *testing.T) {
	cfg, err := ParseEloquent(`
		+debug
		-cache
		timeout=5000
		+retries=3
		^database=postgres
		ssl=true
		compress=no
	`)
	require.NoError(t, err)

	b, _ := cfg.GetBool("debug")
	assert.True(t, b)

	b, _ = cfg.GetBool("cache")
	assert.False(t, b)

	s, _ := cfg.GetString("timeout")
	assert.Equal(t, "5000", s)

	s, _ = cfg.GetString("retries")
	assert.Equal(t, "3", s)

	s, _ = cfg.GetString("database")
	assert.Equal(t, "postgres", s)

	b, _ = cfg.GetBool("ssl")
	assert.True(t, b)

	b, _ = cfg.GetBool("compress")
	assert.False(t, b)
}

func TestEloquentRejectsEmptyKey(t *testing.T) {
	_, err := ParseEloquent("+=value")
	assert.Error(t, err)
}
