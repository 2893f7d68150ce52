package amqp

import (
	"encoding/json"
	"time"
)

// EventType names a domain event published by the allocation engines.
type EventType string

const (
	EventGrantCreated       EventType = "grant.created"
	EventGrantStatusChanged EventType = "grant.status_changed"
	EventGrantVoided        EventType = "grant.voided"
	EventArchiveRequested   EventType = "archive.requested"
	EventArchiveApproved    EventType = "archive.approved"
	EventArchiveDenied      EventType = "archive.denied"
	EventPoolEntryAdded     EventType = "pool.entry_added"
	EventPoolEntryRemoved   EventType = "pool.entry_removed"
)

// Event is a lightweight notification. Consumers that need the full record
// load it from the store by id.
type Event struct {
	Type        EventType `json:"type"`
	SponsorID   string    `json:"sponsor_id"`
	RecipientID string    `json:"recipient_id,omitempty"`
	GrantID     string    `json:"grant_id,omitempty"`
	EntryID     string    `json:"entry_id,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Status      string    `json:"status,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Actor       string    `json:"actor"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(typ EventType, sponsorID, actor string) *Event {
	return &Event{
		Type:      typ,
		SponsorID: sponsorID,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event.
func EventFromJSON(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
