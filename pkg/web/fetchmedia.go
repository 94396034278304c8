package web

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// MaxMediaBytes caps downloads so a bad URL cannot exhaust memory.
const MaxMediaBytes = 512 << 20

var client = resty.New().
	SetTimeout(2 * time.Minute).
	SetRetryCount(2).
	SetRetryWaitTime(time.Second)

// FetchMedia downloads a media asset and returns its bytes and content type.
func FetchMedia(ctx context.Context, mediaURI string) ([]byte, string, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("User-Agent", "creatorstation-publisher").
		Get(mediaURI)
	if err != nil {
		return nil, "", err
	}

	if resp.IsError() {
		return nil, "", fmt.Errorf("failed to fetch media: %s, %s", resp.Status(), resp.String())
	}

	if resp.Size() > MaxMediaBytes {
		return nil, "", fmt.Errorf("media too large: %d bytes", resp.Size())
	}

	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
