package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// Message is the wire form of a feature event.
type Message struct {
	Kind        string      `json:"kind"`
	TypeName    string      `json:"type"`
	Transaction string      `json:"transaction"`
	AutoCommit  bool        `json:"auto_commit"`
	Commit      bool        `json:"commit"`
	Bounds      *[4]float64 `json:"bounds,omitempty"`
	FeatureIDs  []string    `json:"feature_ids,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewMessage converts ev, stamped with now.
func NewMessage(ev core.FeatureEvent, now time.Time) *Message {
	m := &Message{
		Kind:        ev.Kind.String(),
		TypeName:    ev.TypeName,
		Transaction: ev.TxHandle,
		AutoCommit:  ev.AutoCommit,
		Commit:      ev.Commit,
		FeatureIDs:  ev.FeatureIDs,
		Timestamp:   now.UTC(),
	}
	if ev.Bounds != nil {
		b := [4]float64{ev.Bounds.MinX(), ev.Bounds.MinY(), ev.Bounds.MaxX(), ev.Bounds.MaxY()}
		m.Bounds = &b
	}
	return m
}

// Encode marshals m as JSON.
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event message: %w", err)
	}
	return data, nil
}
