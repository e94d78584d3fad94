package base

import (
	"encoding/json"
	"fmt"
)

// Kind identifies the payload carried by an Envelope. The set is closed:
// frames with an unrecognized type tag decode to KindUnknown and keep the
// raw tag for logging.
type Kind int

const (
	KindUnknown Kind = iota
	KindHeartbeat
	KindHeartbeatResponse
	KindMarketData
	KindOrderUpdate
	KindPositionUpdate
	KindAccountUpdate
	KindUserData
	KindSubscribe
	KindUnsubscribe
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindHeartbeat:
		return "heartbeat"
	case KindHeartbeatResponse:
		return "heartbeat_response"
	case KindMarketData:
		return "market_data"
	case KindOrderUpdate:
		return "order_update"
	case KindPositionUpdate:
		return "position_update"
	case KindAccountUpdate:
		return "account_update"
	case KindUserData:
		return "user_data"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// KindFromTag maps a wire type tag to its Kind.
func KindFromTag(tag string) Kind {
	switch tag {
	case "heartbeat":
		return KindHeartbeat
	case "heartbeat_response":
		return KindHeartbeatResponse
	case "market_data":
		return KindMarketData
	case "order_update":
		return KindOrderUpdate
	case "position_update":
		return KindPositionUpdate
	case "account_update":
		return KindAccountUpdate
	case "user_data":
		return KindUserData
	case "subscribe":
		return KindSubscribe
	case "unsubscribe":
		return KindUnsubscribe
	case "error":
		return KindError
	default:
		return KindUnknown
	}
}

// Envelope is the decoded form of one inbound frame. Data holds the raw
// payload so callers pay for full decoding only on the kinds they handle.
type Envelope struct {
	Kind Kind
	Tag  string
	ID   string
	Data json.RawMessage
}

type wireEnvelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEnvelope parses a raw frame into an Envelope. An error means the
// frame is not a valid JSON envelope; callers drop such frames.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if w.Type == "" {
		return Envelope{}, fmt.Errorf("malformed frame: missing type tag")
	}
	return Envelope{
		Kind: KindFromTag(w.Type),
		Tag:  w.Type,
		ID:   w.ID,
		Data: w.Data,
	}, nil
}

// Encode serializes an outbound envelope.
func Encode(kind Kind, id string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		data = b
	}
	return json.Marshal(wireEnvelope{Type: kind.String(), ID: id, Data: data})
}

// HeartbeatFrame builds the periodic liveness frame.
func HeartbeatFrame() []byte {
	b, _ := json.Marshal(wireEnvelope{Type: KindHeartbeat.String()})
	return b
}

// HeartbeatResponseFrame builds the answer to a server heartbeat.
func HeartbeatResponseFrame() []byte {
	b, _ := json.Marshal(wireEnvelope{Type: KindHeartbeatResponse.String()})
	return b
}
