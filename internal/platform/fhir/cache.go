package fhir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/caregap/internal/platform/metrics"
)

const cacheKeyPrefix = "caregap:records:"

// CachingClient is a read-through Redis cache in front of an Exchange.
// Only FetchRecords is cached; measure evaluation and plan application
// depend on server-side state that changes with every submission.
type CachingClient struct {
	Exchange
	rdb    *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachingClient wraps next with a cache stored in rdb.
func NewCachingClient(next Exchange, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger) *CachingClient {
	return &CachingClient{Exchange: next, rdb: rdb, ttl: ttl, logger: logger}
}

// CacheKey returns the Redis key for a search. url.Values.Encode sorts by
// key, so equal queries map to equal keys.
func CacheKey(resourceType string, query url.Values) string {
	return cacheKeyPrefix + resourceType + ":" + query.Encode()
}

func (c *CachingClient) FetchRecords(ctx context.Context, resourceType string, query url.Values) ([]json.RawMessage, error) {
	key := CacheKey(resourceType, query)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []json.RawMessage
		if uerr := gojson.Unmarshal(data, &cached); uerr == nil {
			metrics.RecordCacheLookup(true)
			return cached, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case err != redis.Nil:
		// A broken cache degrades to direct reads.
		c.logger.Warn().Err(err).Str("key", key).Msg("record cache read failed")
	}
	metrics.RecordCacheLookup(false)

	records, err := c.Exchange.FetchRecords(ctx, resourceType, query)
	if err != nil {
		return nil, err
	}

	encoded, err := gojson.Marshal(records)
	if err != nil {
		return records, nil
	}
	if err := c.rdb.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("record cache write failed")
	}
	return records, nil
}

// SubmitRecord forwards the submission and, on success, drops every cached
// search of the submitted resource type.
func (c *CachingClient) SubmitRecord(ctx context.Context, resource Submittable) (*SubmitAck, error) {
	ack, err := c.Exchange.SubmitRecord(ctx, resource)
	if err != nil {
		return nil, err
	}
	if err := c.Invalidate(ctx, resource.FHIRResourceType()); err != nil {
		c.logger.Warn().Err(err).Str("resource_type", resource.FHIRResourceType()).Msg("record cache invalidation failed")
	}
	return ack, nil
}

// Invalidate removes all cached searches for a resource type.
func (c *CachingClient) Invalidate(ctx context.Context, resourceType string) error {
	pattern := cacheKeyPrefix + resourceType + ":*"
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cached %s searches: %w", resourceType, err)
	}
	return nil
}
