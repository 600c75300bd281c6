package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/abplayer/internal/domain/track"
)

func newTracks(n int) []track.Track {
	tracks := make([]track.Track, n)
	for i := range tracks {
		tracks[i] = track.Track{
			Title:  "Chapter",
			Author: "Author",
			URI:    "https://example.com/" + string(rune('a'+i)) + ".mp3",
		}
	}
	return tracks
}

func TestNew(t *testing.T) {
	t.Run("empty playlist", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrEmpty)
	})

	t.Run("track without uri", func(t *testing.T) {
		tracks := newTracks(2)
		tracks[1].URI = ""
		_, err := New(tracks)
		assert.Error(t, err)
	})

	t.Run("input is copied", func(t *testing.T) {
		tracks := newTracks(2)
		p, err := New(tracks)
		require.NoError(t, err)

		tracks[0].Title = "changed"
		got, ok := p.At(0)
		require.True(t, ok)
		assert.Equal(t, "Chapter", got.Title)
		assert.Equal(t, 2, p.Len())
	})
}

func TestPlaylist_At(t *testing.T) {
	p, err := New(newTracks(3))
	require.NoError(t, err)

	_, ok := p.At(-1)
	assert.False(t, ok)
	_, ok = p.At(3)
	assert.False(t, ok)
	got, ok := p.At(2)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/c.mp3", got.URI)
	assert.Len(t, p.Tracks(), 3)
}

func TestPlaylist_NextIndex(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		index    int
		expected int
	}{
		{name: "first to second", length: 3, index: 0, expected: 1},
		{name: "middle", length: 3, index: 1, expected: 2},
		{name: "last wraps to first", length: 3, index: 2, expected: 0},
		{name: "single track", length: 1, index: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(newTracks(tt.length))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.NextIndex(tt.index))
		})
	}
}

func TestPlaylist_PrevIndex(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		index    int
		policy   BackPolicy
		expected int
	}{
		{name: "wrap: second to first", length: 3, index: 1, policy: BackWrap, expected: 0},
		{name: "wrap: first to last", length: 3, index: 0, policy: BackWrap, expected: 2},
		{name: "wrap: last to middle", length: 3, index: 2, policy: BackWrap, expected: 1},
		{name: "wrap: single track", length: 1, index: 0, policy: BackWrap, expected: 0},
		{name: "reset: second to first", length: 3, index: 1, policy: BackReset, expected: 0},
		{name: "reset: first stays first", length: 3, index: 0, policy: BackReset, expected: 0},
		{name: "reset: last jumps to first", length: 3, index: 2, policy: BackReset, expected: 0},
		{name: "reset: single track", length: 1, index: 0, policy: BackReset, expected: 0},
		{name: "unknown policy wraps", length: 3, index: 0, policy: "bogus", expected: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(newTracks(tt.length))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, p.PrevIndex(tt.index, tt.policy))
		})
	}
}

func TestPlaylist_IndexStaysInRange(t *testing.T) {
	for length := 1; length <= 5; length++ {
		p, err := New(newTracks(length))
		require.NoError(t, err)

		for i := 0; i < length; i++ {
			for _, policy := range []BackPolicy{BackWrap, BackReset} {
				prev := p.PrevIndex(i, policy)
				assert.GreaterOrEqual(t, prev, 0)
				assert.Less(t, prev, length)
			}
			next := p.NextIndex(i)
			assert.GreaterOrEqual(t, next, 0)
			assert.Less(t, next, length)
		}
	}
}

func TestValidPolicy(t *testing.T) {
	assert.True(t, ValidPolicy(BackWrap))
	assert.True(t, ValidPolicy(BackReset))
	assert.False(t, ValidPolicy("backwards"))
}
