package event

// blobEventSchema is the published wire contract for BlobEvent. It is not
// enforced at runtime; the contract test validates the Go codec against it so
// the two cannot drift apart.
const blobEventSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "$id": "edi.event.created.v1",
  "title": "BlobEvent",
  "description": "Notification of one object created in the upload container",
  "type": "object",
  "required": ["event_id", "container", "object_key", "size_bytes", "event_time"],
  "properties": {
    "event_id": {
      "type": "string",
      "description": "Delivery-scoped UUID, diagnostic only"
    },
    "container": {
      "type": "string",
      "minLength": 1,
      "description": "Bucket the object was uploaded to"
    },
    "object_key": {
      "type": "string",
      "minLength": 1,
      "description": "Object name within the container"
    },
    "size_bytes": {
      "type": "integer",
      "minimum": 0,
      "description": "Object size reported at observation time"
    },
    "content_type": {
      "type": "string",
      "description": "Content type when the store reports one"
    },
    "event_time": {
      "type": "string",
      "format": "date-time",
      "description": "Observation timestamp, RFC3339"
    },
    "digest": {
      "type": "string",
      "description": "Store-reported object digest"
    }
  },
  "additionalProperties": false
}`

// SchemaJSON returns the JSON Schema describing the BlobEvent wire format.
func SchemaJSON() []byte {
	return []byte(blobEventSchema)
}
