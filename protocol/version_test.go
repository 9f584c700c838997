package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	t.Parallel()
	v, err := ParseVersion("1.2.0")
	require.NoError(t, err)
	assert.Equal(t, SemVer{Major: 1, Minor: 2, Patch: 0}, v)

	for _, bad := range []string{"", "1.2", "1.2.3.4", "a.b.c", "1.-2.0"} {
		_, err := ParseVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestCheckVersion(t *testing.T) {
	t.Parallel()

	warning, err := CheckVersion(ProtocolVersion)
	require.NoError(t, err)
	assert.Empty(t, warning)

	_, err = CheckVersion("2.0.0")
	assert.Error(t, err)

	// Older client minor is fine and silent.
	warning, err = CheckVersion("1.0.0")
	require.NoError(t, err)
	assert.Empty(t, warning)

	// Newer client minor is tolerated with a warning.
	warning, err = CheckVersion("1.99.0")
	require.NoError(t, err)
	assert.NotEmpty(t, warning)
}
