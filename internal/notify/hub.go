// Package notify fans schema and data change events out to connected clients.
package notify

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeSchemaUpdate = "schema_update"
	TypeDataUpdate   = "data_update"
)

// schema_update actions
const (
	ActionCreateTable      = "create_table"
	ActionUpdateTable      = "update_table"
	ActionDeleteTable      = "delete_table"
	ActionCreateColumn     = "create_column"
	ActionUpdateColumn     = "update_column"
	ActionDeleteColumn     = "delete_column"
	ActionCreateEnum       = "create_enum"
	ActionDeleteEnum       = "delete_enum"
	ActionAddEnumValue     = "add_enum_value"
	ActionRemoveEnumValue  = "remove_enum_value"
	ActionCreateLinkTable  = "create_link_table"
	ActionUpdateLinkTable  = "update_link_table"
	ActionDeleteLinkTable  = "delete_link_table"
	ActionCreateLinkColumn = "create_link_column"
	ActionUpdateLinkColumn = "update_link_column"
	ActionDeleteLinkColumn = "delete_link_column"
)

// data_update actions
const (
	ActionCreate           = "create"
	ActionUpdate           = "update"
	ActionDelete           = "delete"
	ActionCreateLinkRecord = "create_link_record"
	ActionUpdateLinkRecord = "update_link_record"
	ActionDeleteLinkRecord = "delete_link_record"
)

type Event struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	Table     string `json:"table,omitempty"`
	Column    string `json:"column,omitempty"`
	Enum      string `json:"enum,omitempty"`
	Value     string `json:"value,omitempty"`
	LinkTable string `json:"link_table,omitempty"`
	ID        string `json:"id,omitempty"`
}

func SchemaEvent(action string) Event { return Event{Type: TypeSchemaUpdate, Action: action} }

func DataEvent(action string) Event { return Event{Type: TypeDataUpdate, Action: action} }

// Publisher is what the schema and record services depend on.
type Publisher interface {
	Publish(ev Event)
}

type discard struct{}

func (discard) Publish(Event) {}

// Discard drops every event.
var Discard Publisher = discard{}

// Hub delivers events to every live subscription. Publish never blocks: a subscriber
// whose queue is full is disconnected and must refetch the schema when it reconnects.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	buffer int
	log    *zap.SugaredLogger
}

func NewHub(buffer int, log *zap.SugaredLogger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Hub{subs: make(map[string]*Subscription), buffer: buffer, log: log}
}

type Subscription struct {
	ID  string
	ch  chan Event
	hub *Hub
}

// Events is closed when the subscription is closed or dropped for overflow.
func (s *Subscription) Events() <-chan Event { return s.ch }

func (s *Subscription) Close() { s.hub.remove(s.ID, "closed") }

func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{ID: uuid.NewString(), ch: make(chan Event, h.buffer), hub: h}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Debugw("subscriber connected", "subscriber", sub.ID, "subscribers", n)
	return sub
}

func (h *Hub) Publish(ev Event) {
	var overflow []string
	h.mu.RLock()
	for id, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			overflow = append(overflow, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range overflow {
		h.remove(id, "send buffer full")
	}
}

// Len reports the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id, reason string) {
	h.mu.Lock()
	sub, ok := h.subs[id]
	if ok {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.mu.Unlock()
	if ok {
		h.log.Debugw("subscriber disconnected", "subscriber", id, "reason", reason)
	}
}
