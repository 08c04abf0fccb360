package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSubsystemName(t *testing.T) {
	payload := []byte{0, 0, 0, 4, 's', 'f', 't', 'p'}
	assert.Equal(t, "sftp", parseSubsystemName(payload))
}

func TestParseSubsystemNameRejectsTruncatedPayload(t *testing.T) {
	assert.Equal(t, "", parseSubsystemName([]byte{0, 0, 0, 9, 's'}))
}

func TestParseSubsystemNameRejectsEmptyPayload(t *testing.T) {
	assert.Equal(t, "", parseSubsystemName(nil))
}
