package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDiskSpec(t *testing.T) {
	d, err := ParseDiskSpec("A:/srv/disks/a.img")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Drive)
	assert.Equal(t, "/srv/disks/a.img", d.Path)

	d, err = ParseDiskSpec("p:b.img")
	require.NoError(t, err)
	assert.Equal(t, 15, d.Drive)

	_, err = ParseDiskSpec("Z:b.img")
	assert.Error(t, err)

	_, err = ParseDiskSpec("noColon")
	assert.Error(t, err)
}

func TestParseListenAddress(t *testing.T) {
	host, port, err := ParseListenAddress("2222")
	require.NoError(t, err)
	assert.Equal(t, "", host)
	assert.Equal(t, 2222, port)

	host, port, err = ParseListenAddress("127.0.0.1:2222")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 2222, port)

	host, port, err = ParseListenAddress("[::1]:2222")
	require.NoError(t, err)
	assert.Equal(t, "::1", host)
	assert.Equal(t, 2222, port)

	host, port, err = ParseListenAddress("")
	require.NoError(t, err)
	assert.Equal(t, "", host)
	assert.Equal(t, 0, port)
}
