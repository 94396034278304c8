package scheduler

import (
	"time"

	"github.com/creatorstation/publisher/internal/models"
	v "github.com/go-ozzo/ozzo-validation/v4"
)

type RecurrenceBody struct {
	Frequency models.Frequency `json:"frequency"`
	Interval  int              `json:"interval"`
	Cron      string           `json:"cron"`
	Count     int              `json:"count"`
	Until     *time.Time       `json:"until"`
}

func (b RecurrenceBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.Frequency, v.Required, v.In(
			models.FrequencyNone,
			models.FrequencyDaily,
			models.FrequencyWeekly,
			models.FrequencyInterval,
			models.FrequencyCron,
		)),
		v.Field(&b.Interval, v.Min(0)),
		v.Field(&b.Cron, v.When(b.Frequency == models.FrequencyCron, v.Required)),
		v.Field(&b.Count, v.Min(0), v.Max(1000)),
	)
}

func (b *RecurrenceBody) rule() *models.RecurrenceRule {
	if b == nil {
		return nil
	}
	return &models.RecurrenceRule{
		Frequency: b.Frequency,
		Interval:  b.Interval,
		Cron:      b.Cron,
		Count:     b.Count,
		Until:     b.Until,
	}
}

type ScheduleBody struct {
	PostID     string          `json:"post_id"`
	AccountIDs []string        `json:"account_ids"`
	FireAt     time.Time       `json:"fire_at"`
	Timezone   string          `json:"timezone"`
	Recurrence *RecurrenceBody `json:"recurrence"`
}

func (b ScheduleBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.PostID, v.Required, v.Length(1, 36)),
		v.Field(&b.AccountIDs, v.Required, v.Length(1, 50), v.Each(v.Required)),
		v.Field(&b.FireAt, v.Required),
		v.Field(&b.Timezone, v.Length(0, 64)),
		v.Field(&b.Recurrence),
	)
}

type RescheduleBody struct {
	FireAt time.Time `json:"fire_at"`
}

func (b RescheduleBody) Validate() error {
	return v.ValidateStruct(&b,
		v.Field(&b.FireAt, v.Required),
	)
}
