package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePathBareDrive(t *testing.T) {
	g, err := parsePath("/A")
	require.NoError(t, err)
	assert.Equal(t, byte('A'), g.Drive)
	assert.Equal(t, byte(0), g.User)
	assert.Equal(t, "", g.Name)
}

func TestParsePathWithUserAndFile(t *testing.T) {
	g, err := parsePath("/b.3/readme.txt")
	require.NoError(t, err)
	assert.Equal(t, byte('B'), g.Drive)
	assert.Equal(t, byte(3), g.User)
	assert.Equal(t, "README", g.Name)
	assert.Equal(t, "TXT", g.Ext)
}

func TestParsePathRejectsOutOfRangeDrive(t *testing.T) {
	_, err := parsePath("/Q/FOO.TXT")
	assert.Error(t, err)
}

func TestParsePathRejectsOversizedName(t *testing.T) {
	_, err := parsePath("/A/WAYTOOLONGNAME.TXT")
	assert.Error(t, err)
}

func TestByteReaderAtReadsPastEnd(t *testing.T) {
	r := &byteReaderAt{data: []byte("hello")}
	buf := make([]byte, 10)
	n, err := r.ReadAt(buf, 0)
	assert.Equal(t, 5, n)
	assert.Error(t, err)
}
