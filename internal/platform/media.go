package platform

import (
	"context"
	"fmt"
	"path"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/models"
	"github.com/creatorstation/publisher/pkg/convert/img"
	"github.com/creatorstation/publisher/pkg/web"
)

// fetchMedia downloads a media reference for platforms that want bytes
// instead of a URL. Images above maxMP megapixels are re-encoded as JPEG.
func fetchMedia(ctx context.Context, platform string, ref models.MediaRef, maxMP float64) ([]byte, string, error) {
	data, contentType, err := web.FetchMedia(ctx, ref.URL)
	if err != nil {
		return nil, "", errs.Wrap(errs.DeliveryFailed, err, "fetch media %s", ref.URL).On("platform", platform)
	}
	if ref.MimeType != "" {
		contentType = ref.MimeType
	}
	if ref.Kind != models.MediaImage || maxMP <= 0 {
		return data, contentType, nil
	}

	resized, err := img.Downscale(&data, maxMP)
	if err != nil {
		return nil, "", errs.Wrap(errs.UnsupportedContent, err, "image %s cannot be decoded", ref.URL).On("platform", platform)
	}
	if resized != &data {
		contentType = "image/jpeg"
	}
	return *resized, contentType, nil
}

func fileName(ref models.MediaRef, i int) string {
	if base := path.Base(ref.URL); base != "" && base != "/" && base != "." {
		return base
	}
	return fmt.Sprintf("media-%d", i)
}
