package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// TestSchemaIsValidJSON guards against editing the embedded schema into a
// state the loader cannot parse
func TestSchemaIsValidJSON(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal(SchemaJSON(), &doc); err != nil {
		t.Fatalf("embedded schema is not valid JSON: %v", err)
	}
	if doc["$schema"] != "http://json-schema.org/draft-07/schema#" {
		t.Errorf("unexpected $schema value: %v", doc["$schema"])
	}
	if doc["$id"] != "edi.event.created.v1" {
		t.Errorf("unexpected $id value: %v", doc["$id"])
	}
}

// TestCodecMatchesSchema validates the Go codec's output against the
// published wire contract
func TestCodecMatchesSchema(t *testing.T) {
	schemaLoader := gojsonschema.NewBytesLoader(SchemaJSON())

	e := New("edi-files", "invoice-001.txt", 512,
		WithContentType("text/plain"),
		WithEventTime(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		WithDigest("SHA-256=deadbeef"),
	)
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		t.Fatalf("Schema validation error: %v", err)
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			t.Errorf("  - %s", desc)
		}
		t.Fatal("marshaled event does not match the wire contract")
	}

	// Optional fields may be absent entirely
	minimal := New("edi-files", "a.txt", 0)
	data, err = minimal.Marshal()
	if err != nil {
		t.Fatalf("Failed to marshal minimal event: %v", err)
	}
	result, err = gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		t.Fatalf("Schema validation error: %v", err)
	}
	if !result.Valid() {
		for _, desc := range result.Errors() {
			t.Errorf("  - %s", desc)
		}
		t.Fatal("minimal event does not match the wire contract")
	}
}

// TestSchemaRejectsBadDocuments exercises the contract from the other side
func TestSchemaRejectsBadDocuments(t *testing.T) {
	schemaLoader := gojsonschema.NewBytesLoader(SchemaJSON())

	bad := []struct {
		name string
		doc  string
	}{
		{"missing object_key", `{"event_id":"x","container":"c","size_bytes":1,"event_time":"2025-06-01T12:00:00Z"}`},
		{"negative size", `{"event_id":"x","container":"c","object_key":"k","size_bytes":-1,"event_time":"2025-06-01T12:00:00Z"}`},
		{"empty container", `{"event_id":"x","container":"","object_key":"k","size_bytes":1,"event_time":"2025-06-01T12:00:00Z"}`},
		{"unknown field", `{"event_id":"x","container":"c","object_key":"k","size_bytes":1,"event_time":"2025-06-01T12:00:00Z","extra":true}`},
	}

	for _, test := range bad {
		t.Run(test.name, func(t *testing.T) {
			result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(test.doc))
			if err != nil {
				t.Fatalf("Schema validation error: %v", err)
			}
			if result.Valid() {
				t.Errorf("document should not validate: %s", test.doc)
			}
		})
	}
}
