package document

import (
	"encoding/json"
	"fmt"
)

// CurrentSchemaVersion is the snapshot layout version this client writes.
const CurrentSchemaVersion = 1

// Snapshot is a document's content payload: the user's code plus the
// serialized object list the geometry kernel produced from it.
//
// Snapshots written by newer clients may carry fields this version does
// not know about. Those fields are preserved verbatim across a
// load/save round trip so that an older client syncing a newer document
// never strips data.
type Snapshot struct {
	// Code is the user's program text.
	Code string

	// Objects is the serialized object list, opaque to the sync layer.
	Objects json.RawMessage

	// SchemaVersion identifies the snapshot layout version.
	SchemaVersion int

	// unknown holds fields from newer schema versions, keyed by JSON
	// field name. Never inspected, only carried.
	unknown map[string]json.RawMessage
}

// Namespaces maps namespace names to their serialized definitions.
// Like Snapshot, unknown fields are preserved on round trip.
type Namespaces struct {
	// Entries maps namespace name to its serialized body.
	Entries map[string]json.RawMessage

	unknown map[string]json.RawMessage
}

// snapshot field names in the wire format.
const (
	fieldCode          = "code"
	fieldObjects       = "objects"
	fieldSchemaVersion = "schemaVersion"
	fieldEntries       = "entries"
)

// MarshalJSON encodes the snapshot, merging preserved unknown fields back
// into the output.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(s.unknown)+3)
	for k, v := range s.unknown {
		out[k] = v
	}

	code, err := json.Marshal(s.Code)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal code: %w", err)
	}
	out[fieldCode] = code

	if s.Objects != nil {
		out[fieldObjects] = s.Objects
	}

	ver, err := json.Marshal(s.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema version: %w", err)
	}
	out[fieldSchemaVersion] = ver

	return json.Marshal(out)
}

// UnmarshalJSON decodes the snapshot, stashing unrecognized fields for
// the next marshal.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	if v, ok := raw[fieldCode]; ok {
		if err := json.Unmarshal(v, &s.Code); err != nil {
			return fmt.Errorf("%w: invalid code field: %v", ErrCorruptData, err)
		}
		delete(raw, fieldCode)
	}
	if v, ok := raw[fieldObjects]; ok {
		s.Objects = v
		delete(raw, fieldObjects)
	}
	if v, ok := raw[fieldSchemaVersion]; ok {
		if err := json.Unmarshal(v, &s.SchemaVersion); err != nil {
			return fmt.Errorf("%w: invalid schemaVersion field: %v", ErrCorruptData, err)
		}
		delete(raw, fieldSchemaVersion)
	}

	if len(raw) > 0 {
		s.unknown = raw
	}
	return nil
}

// MarshalJSON encodes the namespaces, merging preserved unknown fields.
func (n *Namespaces) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(n.unknown)+1)
	for k, v := range n.unknown {
		out[k] = v
	}

	entries, err := json.Marshal(n.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entries: %w", err)
	}
	out[fieldEntries] = entries

	return json.Marshal(out)
}

// UnmarshalJSON decodes the namespaces, stashing unrecognized fields.
func (n *Namespaces) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	if v, ok := raw[fieldEntries]; ok {
		if err := json.Unmarshal(v, &n.Entries); err != nil {
			return fmt.Errorf("%w: invalid entries field: %v", ErrCorruptData, err)
		}
		delete(raw, fieldEntries)
	}

	if len(raw) > 0 {
		n.unknown = raw
	}
	return nil
}
