// Package notify pushes committed change batches to external systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/txdict/internal/txdict"
)

// Publisher delivers encoded batches somewhere outside the process.
type Publisher interface {
	Publish(ctx context.Context, b txdict.Batch) error
	Close() error
}

// Message is the wire form of one batch.
type Message struct {
	Batch   int64           `json:"batch"`
	Changes []MessageChange `json:"changes"`
}

// MessageChange is the wire form of one change. Values are encoded as JSON.
type MessageChange struct {
	Seq        int64             `json:"seq"`
	Dictionary string            `json:"dictionary"`
	Key        string            `json:"key"`
	Kind       txdict.ChangeKind `json:"kind"`
	Old        json.RawMessage   `json:"old,omitempty"`
	New        json.RawMessage   `json:"new,omitempty"`
}

// Encode renders b as a JSON Message.
func Encode(b txdict.Batch) ([]byte, error) {
	msg := Message{Batch: b.Seq, Changes: make([]MessageChange, 0, len(b.Changes))}
	for _, c := range b.Changes {
		mc := MessageChange{
			Seq:        c.Seq,
			Dictionary: c.Dictionary,
			Key:        c.EncodedKey,
			Kind:       c.Kind,
		}
		var err error
		if mc.Old, err = rawValue(c.Old); err != nil {
			return nil, fmt.Errorf("encode %s/%s old value: %w", c.Dictionary, c.EncodedKey, err)
		}
		if mc.New, err = rawValue(c.New); err != nil {
			return nil, fmt.Errorf("encode %s/%s new value: %w", c.Dictionary, c.EncodedKey, err)
		}
		msg.Changes = append(msg.Changes, mc)
	}
	return json.Marshal(msg)
}

// Decode parses a Message produced by Encode.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

func rawValue(o txdict.Optional[any]) (json.RawMessage, error) {
	v, ok := o.Get()
	if !ok {
		return nil, nil
	}
	return json.Marshal(v)
}

// Subscriber adapts p to a txdict subscriber. Each batch is published
// within timeout; failures are logged, never returned to the flush.
func Subscriber(p Publisher, timeout time.Duration, logger *slog.Logger) txdict.Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return func(b txdict.Batch) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := p.Publish(ctx, b); err != nil {
			logger.Error("publish batch failed",
				"batch", b.Seq,
				"changes", len(b.Changes),
				"error", err)
		}
	}
}
