package store

import (
	"context"
	"encoding/json"
	"io"
	"sort"

	"github.com/go-go-golems/chatstate/pkg/conversation"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Fixture is a YAML document of conversations keyed by id:
//
//	conversations:
//	  conv-1:
//	    - id: u1
//	      role: user
//	      createdAt: 2024-05-01T12:00:00Z
//	      parts:
//	        - type: text
//	          text: hello
type Fixture struct {
	Conversations map[string][]map[string]interface{} `yaml:"conversations"`
}

// LoadFixture decodes a fixture and validates every record against the
// message record schema.
func LoadFixture(r io.Reader) (map[string]conversation.Conversation, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return nil, errors.Wrap(err, "could not decode fixture")
	}

	ret := make(map[string]conversation.Conversation, len(f.Conversations))
	for id, records := range f.Conversations {
		msgs := make(conversation.Conversation, 0, len(records))
		for i, rec := range records {
			b, err := json.Marshal(normalizeYAML(rec))
			if err != nil {
				return nil, errors.Wrapf(err, "fixture %s record %d", id, i)
			}
			msg, err := conversation.ParseMessageJSON(b)
			if err != nil {
				return nil, errors.Wrapf(err, "fixture %s record %d", id, i)
			}
			msgs = append(msgs, msg)
		}
		ret[id] = msgs
	}
	return ret, nil
}

// Seed appends every fixture conversation to w, conversations in id order.
func Seed(ctx context.Context, w Writer, conversations map[string]conversation.Conversation) error {
	ids := make([]string, 0, len(conversations))
	for id := range conversations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		for _, msg := range conversations[id] {
			if err := w.AppendTranscript(ctx, id, msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizeYAML converts yaml.v3 decoded values into JSON-encodable ones.
// Timestamps decode as time.Time and marshal as RFC 3339 strings.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeYAML(val)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}
