package orchestrator

import (
	v "github.com/go-ozzo/ozzo-validation/v4"
)

type PublishNowBody struct {
	PostID     string   `json:"post_id"`
	AccountIDs []string `json:"account_ids"`
}

func (b PublishNowBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.PostID, v.Required),
		v.Field(&b.AccountIDs, v.Each(v.Required)),
	)
}
