package billing

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qri-io/jsonpointer"
)

// JSON Pointers (RFC 6901) into the event document
const (
	pointerMetadataEmail = "/data/object/metadata/email"
	pointerMetadataName  = "/data/object/metadata/name"
	pointerObjectID      = "/data/object/id"
	pointerCustomer      = "/data/object/customer"
)

// document is a decoded event payload addressable by JSON Pointer
type document struct {
	root any
}

func decodeDocument(raw []byte) (*document, error) {
	var root any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	return &document{root: root}, nil
}

// evaluate returns the value at path, or nil when the path does not exist
func (d *document) evaluate(path string) (any, error) {
	ptr, err := jsonpointer.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON Pointer: %w", err)
	}

	// The jsonpointer library returns (nil, nil) for nonexistent paths, and
	// an error when an intermediate segment is the wrong type.
	result, err := ptr.Eval(d.root)
	if err != nil {
		return nil, nil
	}
	return result, nil
}

// stringAt returns the trimmed string at path, or "" when absent or not a string
func (d *document) stringAt(path string) string {
	v, err := d.evaluate(path)
	if err != nil || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
