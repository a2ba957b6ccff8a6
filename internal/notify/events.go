// Package notify delivers per-user match events over a pub/sub transport.
package notify

import (
	"encoding/json"
	"time"
)

const (
	EventMatchFound      = "match-found"
	EventSearchCancelled = "search-cancelled"
	EventSearchTimeout   = "search-timeout"
	EventMatchTimeout    = "match-timeout"
	EventPartnerLeft     = "partner-left"
)

const (
	ReasonHeartbeatLost     = "heartbeat_lost"
	ReasonMaxWaitExceeded   = "max_wait_exceeded"
	ReasonPeerHeartbeatLost = "peer_heartbeat_lost"
	ReasonUserLeft          = "user_left"
	ReasonUserCancelled     = "user_cancelled"
	ReasonHandoffExpired    = "handoff_expired"
)

const channelPrefix = "user:"

// Channel is the per-user channel (redis) or subject (nats) events go to.
func Channel(userID string) string {
	return channelPrefix + userID
}

// Message is the envelope published on a user channel and pushed to websocket clients.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

type MatchFoundPayload struct {
	RoomID    string `json:"roomId"`
	PartnerID string `json:"partnerId"`
}

type ReasonPayload struct {
	Reason string `json:"reason"`
}

func encode(event string, payload any, now time.Time) ([]byte, error) {
	msg := Message{Event: event, SentAt: now}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Payload = raw
	}
	return json.Marshal(msg)
}

// Decode parses a message received from a user channel.
func Decode(data []byte) (Message, error) {
	var msg Message
	err := json.Unmarshal(data, &msg)
	return msg, err
}
