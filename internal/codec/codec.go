// Package codec parses and builds the JSON frames exchanged with the
// relay. Every frame is an envelope {event, payload}; the relay
// sometimes nests the envelope one level under a "data" key, and some
// relay builds send numeric fields as JSON strings, so decoding is
// deliberately lenient about both.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrBadEnvelope = errors.New("bad envelope")

// Wire event names. Out/in direction noted where it isn't both.
const (
	EventGetRoom       = "get-room"        // out
	EventRooms         = "rooms"           // in
	EventJoinRoom      = "join-room"       // out
	EventCreateRoom    = "create-room"     // out
	EventGetRoomsUsers = "get-rooms-users" // out
	EventRoomsUsers    = "rooms-users"     // in
	EventSetPosition   = "set-position"
	EventPositionBatch = "get-room-user-position" // in
	EventTurnHolder    = "send-user-chance"
	EventEndTurn       = "end-turn" // out
)

// Envelope is one decoded frame. Payload is left raw; consumers parse
// it with the typed helpers below and drop the frame on failure.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Encode builds a wire frame. A nil payload encodes as JSON null.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Payload: mustRaw(payload)})
}

func mustRaw(payload any) json.RawMessage {
	if payload == nil {
		return json.RawMessage("null")
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// Decode parses a frame into an Envelope, unwrapping a one-level
// {"data": {event, payload}} wrapper when present. Non-JSON input or a
// missing event name fails with ErrBadEnvelope.
func Decode(data []byte) (Envelope, error) {
	var outer struct {
		Event   string          `json:"event"`
		Payload json.RawMessage `json:"payload"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &outer); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	env := Envelope{Event: outer.Event, Payload: outer.Payload}
	if len(outer.Data) > 0 && !bytes.Equal(outer.Data, []byte("null")) {
		// Prefer the wrapped envelope.
		var inner Envelope
		if err := json.Unmarshal(outer.Data, &inner); err != nil {
			return Envelope{}, fmt.Errorf("%w: data: %v", ErrBadEnvelope, err)
		}
		env = inner
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrBadEnvelope)
	}
	return env, nil
}

// FlexInt is an int that also accepts a quoted number on the wire.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrBadEnvelope, s)
		}
		*f = FlexInt(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}

// RoomSummary is one entry of the relay's room-list broadcast.
type RoomSummary struct {
	RoomID string   `json:"roomId"`
	Users  []string `json:"users"`
}

// MaxRoomUsers is the board-game seat cap.
const MaxRoomUsers = 4

// Full reports whether the room has no free seat left.
func (r RoomSummary) Full() bool { return len(r.Users) >= MaxRoomUsers }

// Outbound payloads.

type RoomQueryPayload struct {
	RoomID string `json:"roomId"`
}

type CreateRoomPayload struct {
	RoomID string `json:"roomId"`
}

type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type PositionPayload struct {
	UserID   string `json:"userId"`
	Position int    `json:"position"`
}

type TurnPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// Typed inbound variants.

type RoomsSnapshot struct {
	Rooms []RoomSummary `json:"rooms"`
}

type MembersSnapshot struct {
	Users []string `json:"users"`
}

type PositionUpdate struct {
	UserID   string  `json:"userId"`
	Position FlexInt `json:"position"`
}

type PositionBatch struct {
	Positions []PositionUpdate `json:"positions"`
}

type TurnAssigned struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

func ParseRooms(payload json.RawMessage) (RoomsSnapshot, error) {
	var snap RoomsSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return RoomsSnapshot{}, fmt.Errorf("%w: rooms: %v", ErrBadEnvelope, err)
	}
	return snap, nil
}

func ParseUsers(payload json.RawMessage) (MembersSnapshot, error) {
	var snap MembersSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return MembersSnapshot{}, fmt.Errorf("%w: rooms-users: %v", ErrBadEnvelope, err)
	}
	return snap, nil
}

func ParsePosition(payload json.RawMessage) (PositionUpdate, error) {
	var upd PositionUpdate
	if err := json.Unmarshal(payload, &upd); err != nil {
		return PositionUpdate{}, fmt.Errorf("%w: set-position: %v", ErrBadEnvelope, err)
	}
	if upd.UserID == "" {
		return PositionUpdate{}, fmt.Errorf("%w: set-position: missing userId", ErrBadEnvelope)
	}
	return upd, nil
}

// ParsePositionBatch parses the catch-up snapshot. Entries that fail to
// parse (bad coercion, missing userId) are skipped so the rest of the
// batch still applies.
func ParsePositionBatch(payload json.RawMessage) (PositionBatch, error) {
	var raw struct {
		Positions []json.RawMessage `json:"positions"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return PositionBatch{}, fmt.Errorf("%w: position batch: %v", ErrBadEnvelope, err)
	}
	batch := PositionBatch{Positions: make([]PositionUpdate, 0, len(raw.Positions))}
	for _, entry := range raw.Positions {
		upd, err := ParsePosition(entry)
		if err != nil {
			continue
		}
		batch.Positions = append(batch.Positions, upd)
	}
	return batch, nil
}

func ParseTurn(payload json.RawMessage) (TurnAssigned, error) {
	var turn TurnAssigned
	if err := json.Unmarshal(payload, &turn); err != nil {
		return TurnAssigned{}, fmt.Errorf("%w: turn: %v", ErrBadEnvelope, err)
	}
	if turn.UserID == "" {
		return TurnAssigned{}, fmt.Errorf("%w: turn: missing userId", ErrBadEnvelope)
	}
	return turn, nil
}
