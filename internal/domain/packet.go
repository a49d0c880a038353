package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownPacket is returned by DecodePacket for an unrecognised tag.
var ErrUnknownPacket = errors.New("unknown packet type")

// Packet is a realtime protocol message. Packets travel over the websocket
// and, unchanged, as broker payloads. On the wire each packet is a
// single-key object naming its type: {"Join":{"room":"v1"}}.
type Packet interface {
	packetType() string
}

type Join struct {
	Room string `json:"room"`
}

type AssignedUsername struct {
	Username string `json:"username"`
}

type ServerMessage struct {
	From    string        `json:"from"`
	Message string        `json:"message"`
	Extra   *MessageExtra `json:"extra"`
}

// MessageExtra marks a boosted message. Duration is a display-emphasis hint.
type MessageExtra struct {
	Amount    uint64 `json:"amount"`
	Timestamp uint64 `json:"timestamp"`
	Duration  uint64 `json:"duration"`
}

type ClientMessage struct {
	Message string `json:"message"`
}

// GetInvoice requests a boost invoice for Amount satoshis.
type GetInvoice struct {
	Amount  uint64 `json:"amount"`
	Message string `json:"message"`
}

type Invoice struct {
	ID string `json:"id"`
}

type UpdateViewers struct {
	Viewers int `json:"viewers"`
}

// Error reports a rejected request to the client. The connection stays open.
type Error struct {
	Message string `json:"message"`
}

func (Join) packetType() string             { return "Join" }
func (AssignedUsername) packetType() string { return "AssignedUsername" }
func (ServerMessage) packetType() string    { return "ServerMessage" }
func (ClientMessage) packetType() string    { return "ClientMessage" }
func (GetInvoice) packetType() string       { return "GetInvoice" }
func (Invoice) packetType() string          { return "Invoice" }
func (UpdateViewers) packetType() string    { return "UpdateViewers" }
func (Error) packetType() string            { return "Error" }

// PacketType returns the wire tag of p.
func PacketType(p Packet) string { return p.packetType() }

// EncodePacket serializes p in its tagged wire form.
func EncodePacket(p Packet) ([]byte, error) {
	if p == nil {
		return nil, errors.New("nil packet")
	}
	return json.Marshal(map[string]Packet{p.packetType(): p})
}

// DecodePacket parses one tagged wire frame.
func DecodePacket(data []byte) (Packet, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("decode packet: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("decode packet: expected one tag, got %d", len(tagged))
	}

	for tag, body := range tagged {
		switch tag {
		case "Join":
			return decodeBody[Join](tag, body)
		case "AssignedUsername":
			return decodeBody[AssignedUsername](tag, body)
		case "ServerMessage":
			return decodeBody[ServerMessage](tag, body)
		case "ClientMessage":
			return decodeBody[ClientMessage](tag, body)
		case "GetInvoice":
			return decodeBody[GetInvoice](tag, body)
		case "Invoice":
			return decodeBody[Invoice](tag, body)
		case "UpdateViewers":
			return decodeBody[UpdateViewers](tag, body)
		case "Error":
			return decodeBody[Error](tag, body)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownPacket, tag)
		}
	}
	return nil, ErrUnknownPacket
}

func decodeBody[T Packet](tag string, body json.RawMessage) (Packet, error) {
	var p T
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", tag, err)
	}
	return p, nil
}
