package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/txdict/internal/txdict"
)

// ErrInvalidOp is wrapped by ops that cannot be queued.
var ErrInvalidOp = errors.New("invalid op")

// Op is one operation of a batch, in the form accepted by the CLI and the
// HTTP API.
type Op struct {
	Dictionary string         `yaml:"dictionary" json:"dictionary"`
	Kind       txdict.Kind    `yaml:"kind" json:"kind"`
	Key        string         `yaml:"key,omitempty" json:"key,omitempty"`
	Data       map[string]any `yaml:"data,omitempty" json:"data,omitempty"`

	// Merge applies Data as a patch to the existing document instead of
	// replacing it. Nil values in Data remove fields.
	Merge bool `yaml:"merge,omitempty" json:"merge,omitempty"`
}

// OpResult is the outcome of one Op.
type OpResult struct {
	Dictionary string            `json:"dictionary"`
	Key        string            `json:"key"`
	Intent     txdict.Kind       `json:"intent"`
	Kind       txdict.ChangeKind `json:"kind"`
	Succeeded  bool              `json:"succeeded"`
	Old        *Document         `json:"old,omitempty"`
	New        *Document         `json:"new,omitempty"`
}

// Apply queues ops on one write session and flushes them atomically. Either
// every op is applied or none is; the returned error then carries the index
// of the failing op.
func (c *Catalog) Apply(ctx context.Context, ops []Op) ([]OpResult, error) {
	if len(ops) == 0 {
		return []OpResult{}, nil
	}

	var dicts []*Documents
	results, err := c.db.Write(ctx, func(ws *txdict.WriteSession) error {
		for i, op := range ops {
			d, err := c.enqueue(ws, op)
			if err != nil {
				return fmt.Errorf("op %d: %w", i, err)
			}
			dicts = append(dicts, d)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]OpResult, 0, len(results))
	for i, r := range results {
		mr, ok := dicts[i].ResultOf(r)
		if !ok {
			return nil, fmt.Errorf("op %d: result belongs to %q", i, r.Dictionary)
		}
		out = append(out, OpResult{
			Dictionary: r.Dictionary,
			Key:        mr.Key,
			Intent:     mr.Intent,
			Kind:       mr.Kind,
			Succeeded:  mr.Succeeded,
			Old:        mr.Old.OrZero(),
			New:        mr.New.OrZero(),
		})
	}
	return out, nil
}

func (c *Catalog) enqueue(ws *txdict.WriteSession, op Op) (*Documents, error) {
	d, err := c.Dictionary(op.Dictionary)
	if err != nil {
		return nil, err
	}

	key := op.Key
	if key == "" {
		switch op.Kind {
		case txdict.KindAdd, txdict.KindTryAdd:
			key = c.keys.Generate()
		default:
			return nil, fmt.Errorf("%w: key is required", ErrInvalidOp)
		}
	}

	add := func() *Document {
		return &Document{Key: key, Data: merged(nil, op.Data)}
	}
	update := func(existing *Document) *Document {
		if op.Merge {
			return &Document{Key: key, Data: merged(existing.Data, op.Data)}
		}
		return add()
	}

	in := txdict.MutationIntent[string, *Document]{Key: key, Kind: op.Kind}
	switch op.Kind {
	case txdict.KindAdd, txdict.KindTryAdd:
		in.ValueIfAdding = add
	case txdict.KindUpdate, txdict.KindTryUpdate:
		in.ValueIfUpdating = update
	case txdict.KindAddOrUpdate:
		in.ValueIfAdding = add
		in.ValueIfUpdating = update
	case txdict.KindRemove, txdict.KindTryRemove:
	default:
		return nil, fmt.Errorf("%w: unknown kind %v", ErrInvalidOp, op.Kind)
	}
	return d, d.Enqueue(ws, in)
}

// LoadOps decodes a YAML list of ops. Unknown fields are rejected.
func LoadOps(r io.Reader) ([]Op, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read ops: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var ops []Op
	if err := dec.Decode(&ops); err != nil {
		if errors.Is(err, io.EOF) {
			return []Op{}, nil
		}
		return nil, fmt.Errorf("parse ops: %w", err)
	}
	return ops, nil
}
