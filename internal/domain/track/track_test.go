package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrack_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		track    Track
		expected bool
	}{
		{
			name:     "http uri",
			track:    Track{Title: "Chapter 1", Author: "Hugh Howey", URI: "https://example.com/01.mp3"},
			expected: true,
		},
		{
			name:     "local file",
			track:    Track{Title: "Chapter 2", URI: "/music/02.mp3"},
			expected: true,
		},
		{
			name:     "empty uri",
			track:    Track{Title: "Chapter 3"},
			expected: false,
		},
		{
			name:     "blank uri",
			track:    Track{Title: "Chapter 4", URI: "   "},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.track.IsValid())
		})
	}
}

func TestTrack_String(t *testing.T) {
	assert.Equal(t, "Wool - Chapter 1 - Hugh Howey", Track{Title: "Wool - Chapter 1", Author: "Hugh Howey"}.String())
	assert.Equal(t, "Untitled", Track{Title: "Untitled"}.String())
}
