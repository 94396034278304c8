package platform

import (
	"encoding/json"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/go-resty/resty/v2"
)

// Meta's Graph API reports throttling as HTTP 400 with these error codes.
var graphThrottleCodes = map[int]bool{4: true, 17: true, 32: true, 613: true, 80001: true, 80002: true}

const graphThrottleBackoff = 10 * time.Minute

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// graphClassify is classify with Graph API error codes taken into account.
func graphClassify(platform string, resp *resty.Response, err error) error {
	if err != nil || !resp.IsError() {
		return classify(platform, resp, err)
	}

	var ge graphError
	if json.Unmarshal(resp.Body(), &ge) != nil || ge.Error.Code == 0 {
		return classify(platform, resp, err)
	}

	switch {
	case graphThrottleCodes[ge.Error.Code]:
		return errs.New(errs.RateLimited, "graph API throttled (code %d): %s", ge.Error.Code, ge.Error.Message).
			On("platform", platform).
			WithRetryAfter(graphThrottleBackoff)
	case ge.Error.Code == 190:
		return errs.New(errs.Forbidden, "access token invalid: %s", ge.Error.Message).On("platform", platform)
	case ge.Error.Code == 2 || ge.Error.Code == 1:
		return errs.New(errs.DeliveryFailed, "graph API unavailable: %s", ge.Error.Message).On("platform", platform)
	default:
		return classify(platform, resp, err)
	}
}

type graphID struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}
