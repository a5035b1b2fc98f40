package catalog

import (
	"fmt"
	"maps"

	"github.com/roach88/txdict/internal/txdict"
)

// Document is the value type of configured dictionaries: schemaless JSON
// data under a string key.
type Document struct {
	Key  string         `json:"key" yaml:"key"`
	Data map[string]any `json:"data" yaml:"data"`
}

// documentRecord is the persisted form of a Document. The key lives in the
// record_key column only.
type documentRecord struct {
	Data map[string]any `json:"data" msgpack:"data"`
}

// Documents is a dictionary of documents.
type Documents = txdict.Dictionary[string, *Document, documentRecord]

func documentMapping() txdict.Mapping[string, *Document, documentRecord] {
	return txdict.Mapping[string, *Document, documentRecord]{
		NewDomain: func() *Document { return &Document{} },
		FillDomain: func(_ *txdict.Pass, key string, rec *documentRecord, out *Document) error {
			out.Key = key
			out.Data = rec.Data
			if out.Data == nil {
				out.Data = map[string]any{}
			}
			return nil
		},
		FillRecord: func(_ *txdict.Pass, key string, d *Document, rec *documentRecord) error {
			if d == nil {
				return fmt.Errorf("nil document for key %q", key)
			}
			rec.Data = maps.Clone(d.Data)
			if rec.Data == nil {
				rec.Data = map[string]any{}
			}
			return nil
		},
	}
}

// merged returns a copy of base with patch applied. Nil values in patch
// delete keys.
func merged(base, patch map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = map[string]any{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}
