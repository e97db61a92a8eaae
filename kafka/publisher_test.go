package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/tzhukov/pollprobe/models"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { f.closed = true; return nil }

func TestRecordPublishesKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter("runs", w)

	rec := models.RunRecord{RunID: "run-1", Outcome: models.OutcomeCompleted, Summary: models.RunSummary{Iterations: 11}}
	if err := p.Record(context.Background(), rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "run-1" {
		t.Errorf("unexpected key %q", w.msgs[0].Key)
	}
	var got models.RunRecord
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("value not json: %v", err)
	}
	if got.Summary.Iterations != 11 || got.Outcome != models.OutcomeCompleted {
		t.Errorf("unexpected record %+v", got)
	}
}

func TestRecordWrapsWriteError(t *testing.T) {
	p := NewPublisherWithWriter("runs", &fakeWriter{err: errors.New("broker down")})
	err := p.Record(context.Background(), models.RunRecord{RunID: "x"})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestPingWithoutBrokerIsNoop(t *testing.T) {
	w := &fakeWriter{}
	p := NewPublisherWithWriter("runs", w)
	if err := p.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	_ = p.Close()
	if !w.closed {
		t.Error("writer not closed")
	}
}
