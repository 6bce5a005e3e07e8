package realtime

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

const (
	TableOrders     = "orders"
	TableOrderItems = "order_items"
	TableInventory  = "inventory"
	TableVariants   = "product_variants"
	TableInvoices   = "invoices"
)

// Event is a row-level change notification. Row carries the new row for
// INSERT and UPDATE.
type Event struct {
	Table  string            `json:"table"`
	Type   string            `json:"type"`
	RowID  string            `json:"row_id"`
	Filter map[string]string `json:"filter,omitempty"`
	Row    json.RawMessage   `json:"row,omitempty"`
	At     time.Time         `json:"at"`
}

func NewEvent(table string, eventType string, rowID string, row any, filter map[string]string) (Event, error) {
	e := Event{
		Table:  table,
		Type:   eventType,
		RowID:  rowID,
		Filter: filter,
		At:     time.Now().UTC(),
	}
	if row != nil {
		payload, err := json.Marshal(row)
		if err != nil {
			return Event{}, err
		}
		e.Row = payload
	}
	return e, nil
}

// Topic scopes a subscription. Empty fields match everything.
type Topic struct {
	Table  string
	Type   string
	Column string
	Value  string
}

func (t Topic) Matches(e Event) bool {
	if t.Table != "" && t.Table != e.Table {
		return false
	}
	if t.Type != "" && t.Type != e.Type {
		return false
	}
	if t.Column != "" && e.Filter[t.Column] != t.Value {
		return false
	}
	return true
}

type Broker interface {
	Publish(ctx context.Context, e Event) error
	// Subscribe delivers matching events until ctx is done, then closes the channel.
	Subscribe(ctx context.Context, topic Topic) (<-chan Event, error)
}
