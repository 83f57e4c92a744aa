package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	got := String()
	assert.Contains(t, got, Version)
	assert.Contains(t, got, Commit)
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "okx-data-ingester/"+Version, UserAgent())
}
