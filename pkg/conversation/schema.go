package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// recordSchema describes a persisted message record. Each part type carries
// its mandatory field group as an if/then constraint.
const recordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "role", "parts"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "role": {"enum": ["user", "assistant", "system"]},
    "createdAt": {"type": "string"},
    "content": {"type": "string"},
    "parts": {"type": "array", "items": {"$ref": "#/definitions/part"}}
  },
  "definitions": {
    "nonEmpty": {"type": "string", "minLength": 1},
    "part": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["text", "reasoning", "file", "source-url", "source-document", "tool-invocation", "data"]},
        "index": {"type": "integer", "minimum": 0},
        "state": {"enum": ["input-streaming", "input-available", "output-available", "output-error"]}
      },
      "allOf": [
        {"if": {"properties": {"type": {"const": "text"}}},
         "then": {"required": ["text"], "properties": {"text": {"type": "string"}}}},
        {"if": {"properties": {"type": {"const": "reasoning"}}},
         "then": {"required": ["text"], "properties": {"text": {"type": "string"}}}},
        {"if": {"properties": {"type": {"const": "file"}}},
         "then": {"required": ["mediaType", "filename", "url"],
                  "properties": {"mediaType": {"$ref": "#/definitions/nonEmpty"},
                                 "filename": {"$ref": "#/definitions/nonEmpty"},
                                 "url": {"$ref": "#/definitions/nonEmpty"}}}},
        {"if": {"properties": {"type": {"const": "source-url"}}},
         "then": {"required": ["sourceId", "url"],
                  "properties": {"sourceId": {"$ref": "#/definitions/nonEmpty"},
                                 "url": {"$ref": "#/definitions/nonEmpty"}}}},
        {"if": {"properties": {"type": {"const": "source-document"}}},
         "then": {"required": ["sourceId", "mediaType", "title"],
                  "properties": {"sourceId": {"$ref": "#/definitions/nonEmpty"},
                                 "mediaType": {"$ref": "#/definitions/nonEmpty"},
                                 "title": {"type": "string"}}}},
        {"if": {"properties": {"type": {"const": "tool-invocation"}}},
         "then": {"required": ["toolCallId", "state"],
                  "properties": {"toolCallId": {"$ref": "#/definitions/nonEmpty"}}}},
        {"if": {"properties": {"type": {"const": "data"}}},
         "then": {"required": ["data"]}}
      ]
    }
  }
}`

var ErrInvalidRecord = errors.New("invalid message record")

// RecordValidationError lists the schema violations of a persisted record.
type RecordValidationError struct {
	Violations []string
}

func (e *RecordValidationError) Error() string {
	if e == nil {
		return ErrInvalidRecord.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRecord, strings.Join(e.Violations, "; "))
}

func (e *RecordValidationError) Is(target error) bool { return target == ErrInvalidRecord }

var (
	compiledOnce   sync.Once
	compiledSchema *gojsonschema.Schema
	compileErr     error
)

func recordValidator() (*gojsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(recordSchema))
		if compileErr != nil {
			compileErr = errors.Wrap(compileErr, "could not compile message record schema")
		}
	})
	return compiledSchema, compileErr
}

// RecordSchema returns the JSON schema persisted message records must satisfy.
func RecordSchema() string {
	return recordSchema
}

// ParseMessageJSON validates a persisted or wire-format message record and
// decodes it. This is the boundary where untyped payloads become Messages.
func ParseMessageJSON(b []byte) (*Message, error) {
	schema, err := recordValidator()
	if err != nil {
		return nil, err
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(b))
	if err != nil {
		return nil, errors.Wrap(err, "could not validate message record")
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return nil, &RecordValidationError{Violations: violations}
	}

	msg := &Message{}
	if err := json.Unmarshal(b, msg); err != nil {
		return nil, errors.Wrap(err, "could not decode message record")
	}
	// the schema only sees JSON; nulls and empty strings are checked again here
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}
