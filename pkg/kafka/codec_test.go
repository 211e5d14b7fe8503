package kafka

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	type task struct {
		JobID string `json:"job_id"`
	}
	got, err := DecodeJSON[task]([]byte(`{"job_id":"j-1"}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if got.JobID != "j-1" {
		t.Errorf("JobID = %q", got.JobID)
	}
	_, err = DecodeJSON[task]([]byte(`not json`))
	if !errors.Is(err, ErrSkip) {
		t.Errorf("malformed value: err = %v, want ErrSkip", err)
	}
}

func TestEventMessage(t *testing.T) {
	msg, err := Event{Key: "j-1", Value: map[string]int{"n": 2}}.message()
	if err != nil {
		t.Fatal(err)
	}
	if string(msg.Key) != "j-1" || string(msg.Value) != `{"n":2}` {
		t.Errorf("message = %s %s", msg.Key, msg.Value)
	}
	if _, err := (Event{Key: "bad", Value: make(chan int)}).message(); err == nil || !strings.Contains(err.Error(), "bad") {
		t.Errorf("unencodable value: err = %v", err)
	}
}

func TestPingWithoutBrokers(t *testing.T) {
	if err := Ping(context.Background(), nil); err == nil {
		t.Fatal("expected error with no brokers")
	}
}

func TestStatsStartEmpty(t *testing.T) {
	c := &Consumer{}
	if s := c.Stats(); s.Handled != 0 || !s.LastFetch.IsZero() {
		t.Errorf("stats = %+v", s)
	}
}
