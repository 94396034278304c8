package connections

import (
	v "github.com/go-ozzo/ozzo-validation/v4"
)

type CallbackBody struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

func (b CallbackBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Code, v.Required, v.Length(1, 2048)),
		v.Field(&b.State, v.Length(0, 512)),
	)
}
