package media

import (
	v "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

type PreviewBody struct {
	MediaURI string `json:"media_uri"`
	Platform string `json:"platform"`
}

func (b PreviewBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.MediaURI, v.Required, is.URL),
		v.Field(&b.Platform, v.Length(1, 32)),
	)
}
