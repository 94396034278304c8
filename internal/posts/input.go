package posts

import (
	"github.com/creatorstation/publisher/internal/models"
	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// maxBodyLength is the longest text any supported platform accepts.
const maxBodyLength = 63206

type MediaInput struct {
	URL      string           `json:"url"`
	Kind     models.MediaKind `json:"kind"`
	MimeType string           `json:"mime_type"`
}

func (m MediaInput) Validate() error {
	return v.ValidateStruct(&m,
		v.Field(&m.URL, v.Required, is.URL),
		v.Field(&m.Kind, v.Required, v.In(models.MediaImage, models.MediaVideo)),
	)
}

type PostBody struct {
	Body             string       `json:"body"`
	Media            []MediaInput `json:"media"`
	Platforms        []string     `json:"platforms"`
	AccountIDs       []string     `json:"account_ids"`
	ApprovalRequired bool         `json:"approval_required"`
}

func (b PostBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Body, v.RuneLength(0, maxBodyLength)),
		v.Field(&b.Media, v.Length(0, 20)),
		v.Field(&b.Platforms, v.Each(v.Required, v.Length(1, 32))),
		v.Field(&b.AccountIDs, v.Each(v.Required, v.Length(1, 36))),
	)
}

func (b PostBody) media() []models.MediaRef {
	refs := make([]models.MediaRef, 0, len(b.Media))
	for _, m := range b.Media {
		refs = append(refs, models.MediaRef{URL: m.URL, Kind: m.Kind, MimeType: m.MimeType})
	}
	return refs
}
