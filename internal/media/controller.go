package media

import (
	"bytes"
	"fmt"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/httpx"
	"github.com/creatorstation/publisher/internal/logging"
	"github.com/creatorstation/publisher/internal/platform"
	"github.com/creatorstation/publisher/pkg/convert/img"
	"github.com/creatorstation/publisher/pkg/web"
	"github.com/gofiber/fiber/v2"
)

// DefaultMaxMegapixels applies when no platform is named or the platform
// declares no pixel limit.
const DefaultMaxMegapixels = 23.0

type Controller struct {
	registry *platform.Registry
	logger   logging.Logger
}

func MountController(router fiber.Router, registry *platform.Registry, logger logging.Logger) {
	ctl := &Controller{registry: registry, logger: logger}
	router.Post("/preview", ctl.Preview)
	router.Post("/resize-image", ctl.ResizeImage)
}

// Preview fetches a media URL and returns it the way the platform would
// receive it after downscaling.
func (ctl *Controller) Preview(c *fiber.Ctx) error {
	var body PreviewBody
	if err := c.BodyParser(&body); err != nil {
		return httpx.BadRequest(c, err)
	}
	if err := body.Validate(); err != nil {
		return httpx.Error(c, err)
	}

	maxMP, err := ctl.limitFor(body.Platform)
	if err != nil {
		return httpx.Error(c, err)
	}

	data, contentType, err := web.FetchMedia(c.UserContext(), body.MediaURI)
	if err != nil {
		return httpx.Error(c, errs.Wrap(errs.DeliveryFailed, err, "failed to fetch %s", body.MediaURI))
	}

	ctl.logger.WithFields(logging.Fields{
		"media_uri": body.MediaURI,
		"platform":  body.Platform,
		"bytes":     len(data),
	}).Info("Preparing media preview")

	return ctl.send(c, data, contentType, maxMP)
}

// ResizeImage downscales an uploaded image to the platform's limit.
func (ctl *Controller) ResizeImage(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return httpx.BadRequest(c, err)
	}

	maxMP, err := ctl.limitFor(c.FormValue("platform"))
	if err != nil {
		return httpx.Error(c, err)
	}

	fileContent, err := file.Open()
	if err != nil {
		return httpx.Error(c, err)
	}
	defer fileContent.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(fileContent); err != nil {
		return httpx.Error(c, err)
	}

	return ctl.send(c, buf.Bytes(), file.Header.Get("Content-Type"), maxMP)
}

func (ctl *Controller) limitFor(platformTag string) (float64, error) {
	if platformTag == "" {
		return DefaultMaxMegapixels, nil
	}
	adapter, err := ctl.registry.Get(platformTag)
	if err != nil {
		return 0, err
	}
	if mp := adapter.Constraints().MaxImageMegapixels; mp > 0 {
		return mp, nil
	}
	return DefaultMaxMegapixels, nil
}

func (ctl *Controller) send(c *fiber.Ctx, data []byte, contentType string, maxMP float64) error {
	before, err := img.Megapixels(data)
	if err != nil {
		return httpx.Error(c, errs.Wrap(errs.UnsupportedContent, err, "not a decodable image"))
	}

	resized, err := img.Downscale(&data, maxMP)
	if err != nil {
		return httpx.Error(c, errs.Wrap(errs.UnsupportedContent, err, "not a decodable image"))
	}
	if resized != &data {
		contentType = "image/jpeg"
	}

	ctl.logger.WithFields(logging.Fields{
		"before_bytes": len(data),
		"after_bytes":  len(*resized),
		"megapixels":   before,
		"limit":        maxMP,
	}).Debug("Image downscaled")

	c.Set("X-Original-Megapixels", fmt.Sprintf("%.2f", before))
	c.Set("X-Max-Megapixels", fmt.Sprintf("%.2f", maxMP))
	c.Context().SetContentType(contentType)
	return c.Status(fiber.StatusOK).Send(*resized)
}
