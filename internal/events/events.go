// Package events publishes record lifecycle notifications to the event bus.
package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/sdata/internal/model"
)

// Topics. All share the "sdata." prefix so "sdata.>" watches everything.
const (
	TopicRecordCreated   = "sdata.record.created"
	TopicRecordMutated   = "sdata.record.mutated"
	TopicRecordExpired   = "sdata.record.expired"
	TopicVersionArchived = "sdata.version.archived"

	TopicAll = "sdata.>"
)

// RecordRef names a record in event payloads.
type RecordRef struct {
	TypeTag uint64 `json:"type_tag"`
	ID      string `json:"id"`
}

// RefOf returns the payload form of k.
func RefOf(k model.Key) RecordRef {
	return RecordRef{TypeTag: k.TypeTag, ID: k.ID.String()}
}

type RecordCreated struct {
	EventID     string    `json:"event_id"`
	Record      RecordRef `json:"record"`
	LatestIndex uint64    `json:"latest_index"`
	Owners      int       `json:"owners"`
	Threshold   uint64    `json:"threshold"`
	At          time.Time `json:"at"`
}

type RecordMutated struct {
	EventID     string    `json:"event_id"`
	Record      RecordRef `json:"record"`
	Change      string    `json:"change"` // "policy", "version" or "policy+version"
	LatestIndex uint64    `json:"latest_index"`
	Evicted     []uint64  `json:"evicted,omitempty"`
	Weight      uint64    `json:"weight"`
	At          time.Time `json:"at"`
}

type RecordExpired struct {
	EventID   string    `json:"event_id"`
	Record    RecordRef `json:"record"`
	ExpiredAt time.Time `json:"expired_at"`
	At        time.Time `json:"at"`
}

type VersionArchived struct {
	EventID string    `json:"event_id"`
	Record  RecordRef `json:"record"`
	Index   uint64    `json:"index"`
	Object  string    `json:"object"`
	At      time.Time `json:"at"`
}

// RecordEvent is implemented by every payload that concerns one record.
type RecordEvent interface {
	Ref() RecordRef
}

func (e RecordCreated) Ref() RecordRef   { return e.Record }
func (e RecordMutated) Ref() RecordRef   { return e.Record }
func (e RecordExpired) Ref() RecordRef   { return e.Record }
func (e VersionArchived) Ref() RecordRef { return e.Record }

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
