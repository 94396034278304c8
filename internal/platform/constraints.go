package platform

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/models"
)

// Constraints declares what a platform accepts. Zero values mean "no limit",
// except MaxMedia which defaults to no media at all when AllowedKinds is empty.
type Constraints struct {
	MaxTextLength    int
	MaxCaptionLength int
	MinMedia         int
	MaxMedia         int
	AllowedKinds     []models.MediaKind
	// VideoOnly requires exactly one video and nothing else.
	VideoOnly bool
	// MaxImageMegapixels triggers a downscale before byte uploads.
	MaxImageMegapixels float64
	TextRequired       bool
}

// Check rejects content the platform cannot accept. It never touches the network.
func (c Constraints) Check(platform string, content Content, media []models.MediaRef) error {
	reject := func(format string, args ...any) error {
		return errs.New(errs.UnsupportedContent, format, args...).On("platform", platform)
	}

	textLen := utf8.RuneCountInString(content.Text)
	limit := c.MaxTextLength
	if len(media) > 0 && c.MaxCaptionLength > 0 {
		limit = c.MaxCaptionLength
	}
	if limit > 0 && textLen > limit {
		return reject("text is %d characters, limit is %d", textLen, limit)
	}
	if c.TextRequired && strings.TrimSpace(content.Text) == "" {
		return reject("text is required")
	}

	if c.VideoOnly {
		if len(media) != 1 || media[0].Kind != models.MediaVideo {
			return reject("exactly one video is required")
		}
		return checkURLs(platform, media)
	}

	if len(media) < c.MinMedia {
		return reject("at least %d media item(s) required, got %d", c.MinMedia, len(media))
	}
	if len(media) > c.MaxMedia {
		return reject("at most %d media item(s) allowed, got %d", c.MaxMedia, len(media))
	}
	for _, m := range media {
		if !slices.Contains(c.AllowedKinds, m.Kind) {
			return reject("%s media is not supported", m.Kind)
		}
	}
	return checkURLs(platform, media)
}

func checkURLs(platform string, media []models.MediaRef) error {
	for i, m := range media {
		if !strings.HasPrefix(m.URL, "https://") && !strings.HasPrefix(m.URL, "http://") {
			return errs.New(errs.UnsupportedContent, "media %d has no fetchable URL", i).On("platform", platform)
		}
	}
	return nil
}

func hasVideo(media []models.MediaRef) bool {
	return slices.ContainsFunc(media, func(m models.MediaRef) bool { return m.Kind == models.MediaVideo })
}
