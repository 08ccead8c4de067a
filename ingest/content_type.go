package ingest

import (
	"path"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/itsBaivab/edi-file-processor/event"
	"github.com/itsBaivab/edi-file-processor/objectstore"
)

// defaultContentType applies when neither the event, the store, nor the
// extension says otherwise. EDI interchanges are text.
const defaultContentType = "text/plain"

var extensionContentTypes = map[string]string{
	".txt":  "text/plain",
	".edi":  "application/edi",
	".xml":  "application/xml",
	".json": "application/json",
}

// deriveContentType resolves the content type for an audit row. Precedence:
// the event's value, then the store's object header, then the key extension.
func deriveContentType(evt *event.BlobEvent, info *jetstream.ObjectInfo) string {
	if evt.ContentType != "" {
		return evt.ContentType
	}
	if ct := objectstore.ContentType(info); ct != "" {
		return ct
	}
	return contentTypeByExtension(evt.ObjectKey)
}

// contentTypeByExtension maps a key's extension to a content type.
func contentTypeByExtension(key string) string {
	if ct, ok := extensionContentTypes[strings.ToLower(path.Ext(key))]; ok {
		return ct
	}
	return defaultContentType
}
