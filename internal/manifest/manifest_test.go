package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppID_DeterministicForSameProgram(t *testing.T) {
	program := []byte{0x5a, 0x4b, 0x46, 0x01, 0x00}
	info := AppInfo{Name: "counter"}

	first, err := AppID(program, info)
	require.NoError(t, err)
	second, err := AppID(program, info)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64, "app id is hex-encoded sha256")
}

func TestAppID_VariesWithProgramAndInfo(t *testing.T) {
	base, err := AppID([]byte("program-a"), AppInfo{Name: "a"})
	require.NoError(t, err)

	otherProgram, err := AppID([]byte("program-b"), AppInfo{Name: "a"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherProgram)

	otherInfo, err := AppID([]byte("program-a"), AppInfo{Name: "b"})
	require.NoError(t, err)
	assert.NotEqual(t, base, otherInfo)
}

func TestAppID_EmptyInfoIsValid(t *testing.T) {
	id, err := AppID([]byte("program"), AppInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}
