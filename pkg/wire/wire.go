// Package wire defines the message envelope exchanged with subscribed
// connections. The same envelope shape is used in both directions; inbound
// and outbound frames differ only in their type values.
package wire

import (
	"errors"
	"fmt"
	"time"

	"github.com/chainsentry/chainsentry/pkg/jsonutil"
)

// MessageType represents the type of a wire frame.
type MessageType string

// Inbound frame types.
const (
	TypeAuthenticate MessageType = "authenticate"
	TypeSubscribe    MessageType = "subscribe"
	TypeUnsubscribe  MessageType = "unsubscribe"
	TypeHeartbeat    MessageType = "heartbeat"
)

// Outbound frame types.
const (
	TypeConnectionEstablished MessageType = "connection_established"
	TypeAuthSuccess           MessageType = "auth_success"
	TypeAuthError             MessageType = "auth_error"
	TypeSubscriptionConfirmed MessageType = "subscription_confirmed"
	TypeDataUpdate            MessageType = "data_update"
	TypeHeartbeatResponse     MessageType = "heartbeat_response"
	TypeError                 MessageType = "error"
)

// ErrMalformed indicates an inbound frame that failed to parse.
// The originating connection receives an error frame and stays open.
var ErrMalformed = errors.New("wire: malformed message")

// Envelope is the wire frame for both directions.
type Envelope struct {
	Type      MessageType    `json:"type"`
	Service   string         `json:"service,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
	ID        string         `json:"id,omitempty"`
}

// New constructs an outbound envelope stamped with the current time.
func New(t MessageType, service string, data map[string]any) *Envelope {
	return &Envelope{
		Type:      t,
		Service:   service,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// Parse decodes an inbound frame. A frame that is not valid JSON or lacks a
// type wraps ErrMalformed.
func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := jsonutil.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &env, nil
}

// Encode serializes the envelope for transmission.
func (e *Envelope) Encode() ([]byte, error) {
	return jsonutil.Marshal(e)
}
