package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
)

const (
	suggestLookback     = 90 * 24 * time.Hour
	minHistorySamples   = 10
	defaultSuggestDays  = 7
	defaultSuggestLimit = 5
)

// defaultHours are the commonly recommended posting hours (local time, best
// first) used when an organization has too little history.
var defaultHours = map[string][]int{
	"instagram": {11, 13, 19},
	"facebook":  {9, 13, 15},
	"linkedin":  {8, 12, 17},
	"x":         {9, 12, 17},
	"tiktok":    {19, 21, 12},
	"youtube":   {15, 18, 20},
	"telegram":  {9, 18, 12},
}

var fallbackHours = []int{9, 12, 18}

// SuggestRequest bounds the window candidate slots are drawn from.
type SuggestRequest struct {
	Platforms []string
	Timezone  string
	From      time.Time
	Days      int
	Limit     int
}

// Slot is one suggested publish time.
type Slot struct {
	At      time.Time `json:"at"`
	Local   string    `json:"local"`
	Score   float64   `json:"score"`
	Samples int       `json:"samples"`
	Basis   string    `json:"basis"`
}

type bucket struct {
	sum   float64
	count int
}

// Suggest ranks hourly slots in the coming days by the mean engagement past
// posts received at the same weekday and hour. It never schedules anything.
func (s *Scheduler) Suggest(ctx context.Context, organizationID string, req SuggestRequest) ([]Slot, error) {
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errs.Wrap(errs.Validation, err, "unknown timezone %q", timezone)
	}
	now := s.now()
	from := req.From
	if from.IsZero() || from.Before(now) {
		from = now
	}
	days := req.Days
	if days <= 0 {
		days = defaultSuggestDays
	}
	if days > 30 {
		days = 30
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSuggestLimit
	}
	if limit > 50 {
		limit = 50
	}

	var samples []EngagementSample
	if s.engagement != nil {
		if samples, err = s.engagement.Samples(ctx, organizationID, req.Platforms, now.Add(-suggestLookback)); err != nil {
			s.logger.WithError(err).Warn("Engagement history unavailable, using default hours")
			samples = nil
		}
	}

	var score func(local time.Time) (float64, int)
	basis := "history"
	if len(samples) >= minHistorySamples {
		var buckets [7][24]bucket
		for _, sample := range samples {
			t := sample.PostedAt.In(loc)
			b := &buckets[t.Weekday()][t.Hour()]
			b.sum += sample.Engagement
			b.count++
		}
		score = func(local time.Time) (float64, int) {
			b := buckets[local.Weekday()][local.Hour()]
			if b.count == 0 {
				return 0, 0
			}
			return b.sum / float64(b.count), b.count
		}
	} else {
		basis = "default"
		weights := defaultWeights(req.Platforms)
		score = func(local time.Time) (float64, int) {
			return weights[local.Hour()], 0
		}
	}

	end := from.Add(time.Duration(days) * 24 * time.Hour)
	start := from.In(loc)
	seen := make(map[int64]bool)
	var slots []Slot
	for d := 0; d <= days; d++ {
		for h := 0; h < 24; h++ {
			local := time.Date(start.Year(), start.Month(), start.Day()+d, h, 0, 0, 0, loc)
			at := local.UTC()
			if at.Before(from) || at.After(end) || seen[at.Unix()] {
				continue
			}
			seen[at.Unix()] = true
			value, n := score(local)
			if value <= 0 {
				continue
			}
			slots = append(slots, Slot{
				At:      at,
				Local:   local.Format(time.RFC3339),
				Score:   value,
				Samples: n,
				Basis:   basis,
			})
		}
	}

	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].Score != slots[j].Score {
			return slots[i].Score > slots[j].Score
		}
		return slots[i].At.Before(slots[j].At)
	})
	if len(slots) > limit {
		slots = slots[:limit]
	}
	return slots, nil
}

// defaultWeights scores each hour by how many platforms recommend it, with
// a platform's first choice counting most.
func defaultWeights(platforms []string) map[int]float64 {
	weights := make(map[int]float64)
	if len(platforms) == 0 {
		platforms = []string{""}
	}
	for _, platform := range platforms {
		hours, ok := defaultHours[platform]
		if !ok {
			hours = fallbackHours
		}
		for rank, hour := range hours {
			weights[hour] += float64(len(hours) - rank)
		}
	}
	return weights
}
