// Package realtime delivers row-level change events for backend tables.
//
// Every event carries the whole row; consumers replace their copy instead of
// merging fields. Events for one subscription are delivered in the order they
// were published. Nothing is guaranteed across subscriptions.
package realtime

import (
	"encoding/json"
	"fmt"
)

const (
	TableProfiles        = "profiles"
	TableRides           = "rides"
	TableDriverLocations = "driver_locations"
	TablePayments        = "payments"
	TableRatings         = "ratings"
)

type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// Change is one row-level event.
type Change struct {
	Table  string          `json:"table"`
	Type   ChangeType      `json:"type"`
	Record json.RawMessage `json:"record"`
}

// Decode unmarshals the row into v.
func (c Change) Decode(v any) error {
	if len(c.Record) == 0 {
		return fmt.Errorf("empty %s record", c.Table)
	}
	return json.Unmarshal(c.Record, v)
}

// NewChange marshals row into a Change.
func NewChange(table string, typ ChangeType, row any) (Change, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return Change{}, err
	}
	return Change{Table: table, Type: typ, Record: b}, nil
}

// DecodeNotification parses the payload emitted by the row_changes trigger.
func DecodeNotification(payload []byte) (Change, error) {
	var c Change
	if err := json.Unmarshal(payload, &c); err != nil {
		return Change{}, fmt.Errorf("decode notification: %w", err)
	}
	if c.Table == "" {
		return Change{}, fmt.Errorf("notification without table")
	}
	switch c.Type {
	case Insert, Update, Delete:
	default:
		return Change{}, fmt.Errorf("unknown change type %q", c.Type)
	}
	return c, nil
}

// Filter scopes a subscription to one table and, optionally, to rows whose
// Column equals Value.
type Filter struct {
	Table  string
	Column string
	Value  string
}

func (f Filter) String() string {
	if f.Column == "" {
		return f.Table
	}
	return fmt.Sprintf("%s:%s=eq.%s", f.Table, f.Column, f.Value)
}

func (f Filter) matches(c Change, row map[string]any) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Column == "" {
		return true
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

type Handler func(Change)

type Subscription interface {
	Unsubscribe()
}

// Feed opens subscriptions.
type Feed interface {
	Subscribe(f Filter, h Handler) (Subscription, error)
}

// Publisher accepts changes for fan-out.
type Publisher interface {
	Publish(c Change)
}
