package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/elertan/bronzeman-unleashed/model"
)


// one published event
type Envelope struct {
	Type string
	ProducerId model.AccountHash
	// zero when the stored event had none
	Timestamp model.Timestamp
	Payload Payload
}

// events without a timestamp are always stale
func (self *Envelope) IsStale(now time.Time, staleThreshold time.Duration) bool {
	return isStale(self.Timestamp, now, staleThreshold)
}


// the stored form
// {"type": "...", "producerId": "<decimal>", "timestamp": "<RFC3339>", "payload": {...}}
type envelopeJson struct {
	Type string `json:"type"`
	ProducerId model.AccountHash `json:"producerId"`
	Timestamp model.Timestamp `json:"timestamp"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeEnvelope(envelope *Envelope) (*envelopeJson, error) {
	payloadJson, err := json.Marshal(envelope.Payload)
	if err != nil {
		return nil, err
	}
	return &envelopeJson{
		Type: envelope.Type,
		ProducerId: envelope.ProducerId,
		Timestamp: envelope.Timestamp,
		Payload: payloadJson,
	}, nil
}

func decodeEnvelope(registry *Registry, storedEnvelope *envelopeJson) (*Envelope, error) {
	if storedEnvelope == nil {
		return nil, fmt.Errorf("empty envelope")
	}
	payload, err := registry.Decode(storedEnvelope.Type, storedEnvelope.Payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Type: storedEnvelope.Type,
		ProducerId: storedEnvelope.ProducerId,
		Timestamp: storedEnvelope.Timestamp,
		Payload: payload,
	}, nil
}

func isStale(timestamp model.Timestamp, now time.Time, staleThreshold time.Duration) bool {
	return timestamp.IsZero() || timestamp.Before(now.Add(-staleThreshold))
}

// an entry that does not parse as an envelope can never be delivered, so it is stale right away
func isStoredStale(data json.RawMessage, now time.Time, staleThreshold time.Duration) bool {
	var storedEnvelope envelopeJson
	if err := json.Unmarshal(data, &storedEnvelope); err != nil {
		return true
	}
	return isStale(storedEnvelope.Timestamp, now, staleThreshold)
}
