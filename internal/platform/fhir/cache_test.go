package fhir

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type stubExchange struct {
	Exchange
	records   []json.RawMessage
	fetches   int
	submitted int
}

func (s *stubExchange) FetchRecords(context.Context, string, url.Values) ([]json.RawMessage, error) {
	s.fetches++
	return s.records, nil
}

func (s *stubExchange) SubmitRecord(context.Context, Submittable) (*SubmitAck, error) {
	s.submitted++
	return &SubmitAck{ID: "new-1"}, nil
}

// unreachableRedis points at a port nothing listens on.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachingClient_DegradesWhenRedisDown(t *testing.T) {
	next := &stubExchange{records: []json.RawMessage{json.RawMessage(`{"resourceType":"Observation","id":"o1"}`)}}
	c := NewCachingClient(next, unreachableRedis(t), time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		recs, err := c.FetchRecords(context.Background(), ResourceObservation, url.Values{"patient": {"p1"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
	}
	if next.fetches != 2 {
		t.Errorf("expected every read to reach the server, got %d", next.fetches)
	}
}

func TestCachingClient_SubmitSurvivesInvalidationFailure(t *testing.T) {
	next := &stubExchange{}
	c := NewCachingClient(next, unreachableRedis(t), time.Minute, zerolog.Nop())

	ack, err := c.SubmitRecord(context.Background(), Observation{ResourceType: ResourceObservation})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.ID != "new-1" || next.submitted != 1 {
		t.Errorf("expected forwarded submission, got %+v (submitted=%d)", ack, next.submitted)
	}
	if err := c.Invalidate(context.Background(), ResourceObservation); err == nil {
		t.Error("expected invalidation error with redis down")
	}
}
