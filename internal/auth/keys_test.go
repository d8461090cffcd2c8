package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKey(t *testing.T) {
	// SHA-256 of the empty string
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashKey(""))

	assert.Len(t, HashKey("internal-secret"), 64)
	assert.Equal(t, HashKey("internal-secret"), HashKey("  internal-secret\n"))
	assert.NotEqual(t, HashKey("key1"), HashKey("key2"))
}

func TestMatches(t *testing.T) {
	hashed := HashKey("s3cret")

	assert.True(t, Matches("s3cret", hashed))
	assert.True(t, Matches(" s3cret ", hashed))
	assert.False(t, Matches("s3cre", hashed))
	assert.False(t, Matches("", hashed))
}
