package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlaylistObjectName(t *testing.T) {
	assert.Equal(t, "playlists/abc.json", PlaylistObjectName("abc"))
}
