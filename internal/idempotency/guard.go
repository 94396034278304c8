// Package idempotency collapses duplicate client requests that carry the same
// idempotency key. The database unique index on the stored key is the final
// arbiter; the Redis guard only stops concurrent duplicates from racing to it.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/creatorstation/publisher/internal/errs"
	"github.com/creatorstation/publisher/internal/logging"
	goredis "github.com/redis/go-redis/v9"
)

const inFlight = "in-flight"

// Key derives the stored key from the organization, operation and client key.
// An empty client key yields nil: the request is not deduplicated.
func Key(organizationID, operation, clientKey string) *string {
	if clientKey == "" {
		return nil
	}
	hash := sha256.Sum256([]byte(organizationID + "\x00" + operation + "\x00" + clientKey))
	key := hex.EncodeToString(hash[:])
	return &key
}

// Guard marks keys as in flight in Redis. A nil Guard, or one without a
// client, lets every request through.
type Guard struct {
	client goredis.UniversalClient
	ttl    time.Duration
	logger logging.Logger
}

func NewGuard(client goredis.UniversalClient, ttl time.Duration, logger logging.Logger) *Guard {
	return &Guard{client: client, ttl: ttl, logger: logger}
}

// Acquire claims key. When a finished request already holds it, the id of
// the resource it created is returned with acquired=false. A request still
// in flight yields a Conflict error.
func (g *Guard) Acquire(ctx context.Context, key string) (existingID string, acquired bool, err error) {
	if g == nil || g.client == nil {
		return "", true, nil
	}

	redisKey := "idem:" + key
	ok, err := g.client.SetNX(ctx, redisKey, inFlight, g.ttl).Result()
	if err != nil {
		g.logger.WithError(err).Warn("Idempotency guard unavailable, relying on database")
		return "", true, nil
	}
	if ok {
		return "", true, nil
	}

	val, err := g.client.Get(ctx, redisKey).Result()
	if errors.Is(err, goredis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = g.client.SetNX(ctx, redisKey, inFlight, g.ttl).Result()
		if err == nil && ok {
			return "", true, nil
		}
		if err == nil {
			return "", false, errs.New(errs.Conflict, "a request with this idempotency key is still in progress")
		}
	}
	if err != nil {
		return "", true, nil
	}
	if val == inFlight {
		return "", false, errs.New(errs.Conflict, "a request with this idempotency key is still in progress")
	}
	return val, false, nil
}

// Complete records the id of the resource the request created.
func (g *Guard) Complete(ctx context.Context, key, resourceID string) {
	if g == nil || g.client == nil {
		return
	}
	if err := g.client.Set(ctx, "idem:"+key, resourceID, g.ttl).Err(); err != nil {
		g.logger.WithError(err).Warnf("Failed to record idempotency result for %s", resourceID)
	}
}

// Release drops an in-flight marker after a failed request so it can be retried.
func (g *Guard) Release(ctx context.Context, key string) {
	if g == nil || g.client == nil {
		return
	}
	if err := g.client.Del(ctx, "idem:"+key).Err(); err != nil {
		g.logger.WithError(err).Warn("Failed to release idempotency key")
	}
}
