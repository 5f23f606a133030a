package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMediaID(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			name: "numeric path segment",
			url:  "https://video.example.com/7468427341/play.mp4",
			want: "7468427341",
		},
		{
			name: "first numeric segment wins",
			url:  "https://example.com/123/456/a.jpg",
			want: "123",
		},
		{
			name: "no numeric segment falls back to hash",
			url:  "https://example.com/abc/def.mp4",
			want: MediaID("https://example.com/abc/def.mp4"),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MediaID(tt.url))
		})
	}
}

func TestMediaID_HashStableAndShort(t *testing.T) {
	url := "https://example.com/abc/def.mp4"
	first := MediaID(url)
	assert.Len(t, first, 8)
	assert.Equal(t, first, MediaID(url))
	assert.NotEqual(t, first, MediaID(url+"?other"))
}

func TestStripHLSHint(t *testing.T) {
	u, hinted := StripHLSHint(HLSHintPrefix + "https://x/stream")
	assert.True(t, hinted)
	assert.Equal(t, "https://x/stream", u)

	u, hinted = StripHLSHint("https://x/stream")
	assert.False(t, hinted)
	assert.Equal(t, "https://x/stream", u)
}
