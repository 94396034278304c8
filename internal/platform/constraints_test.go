package platform

import (
	"strings"
	"testing"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/stretchr/testify/assert"
)

func imageRef(url string) models.MediaRef {
	return models.MediaRef{URL: url, Kind: models.MediaImage}
}

func videoRef(url string) models.MediaRef {
	return models.MediaRef{URL: url, Kind: models.MediaVideo}
}

func TestConstraintsCheck(t *testing.T) {
	xc := xConstraints
	igc := instagramConstraints
	ttc := tiktokConstraints
	tgc := telegramConstraints

	cases := []struct {
		name  string
		c     Constraints
		text  string
		media []models.MediaRef
		ok    bool
	}{
		{"x text within limit", xc, strings.Repeat("a", 280), nil, true},
		{"x text over limit", xc, strings.Repeat("a", 281), nil, false},
		{"x counts runes not bytes", xc, strings.Repeat("ş", 280), nil, true},
		{"x too many images", xc, "hi", []models.MediaRef{imageRef("https://a/1"), imageRef("https://a/2"), imageRef("https://a/3"), imageRef("https://a/4"), imageRef("https://a/5")}, false},
		{"x rejects video", xc, "hi", []models.MediaRef{videoRef("https://a/v.mp4")}, false},
		{"instagram needs media", igc, "caption", nil, false},
		{"instagram single image", igc, "caption", []models.MediaRef{imageRef("https://a/1.jpg")}, true},
		{"tiktok needs a video", ttc, "clip", []models.MediaRef{imageRef("https://a/1.jpg")}, false},
		{"tiktok single video", ttc, "clip", []models.MediaRef{videoRef("https://a/v.mp4")}, true},
		{"tiktok two videos", ttc, "clip", []models.MediaRef{videoRef("https://a/v.mp4"), videoRef("https://a/w.mp4")}, false},
		{"telegram caption limit applies with media", tgc, strings.Repeat("a", 1025), []models.MediaRef{imageRef("https://a/1.jpg")}, false},
		{"telegram text limit without media", tgc, strings.Repeat("a", 1025), nil, true},
		{"relative media url", igc, "caption", []models.MediaRef{imageRef("/local/file.jpg")}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.c.Check("test", Content{Text: tc.text}, tc.media)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.Is(err, errs.UnsupportedContent), "got %v", err)
		})
	}
}
