package codec

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEnvelopeShapes(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		wantErr   bool
		wantEvent string
	}{
		{
			name:      "flat envelope",
			input:     `{"event":"rooms","payload":{"rooms":[]}}`,
			wantEvent: "rooms",
		},
		{
			name:      "wrapped under data",
			input:     `{"data":{"event":"rooms-users","payload":{"users":["a"]}}}`,
			wantEvent: "rooms-users",
		},
		{
			name:      "data wrapper wins over outer event",
			input:     `{"event":"outer","data":{"event":"inner","payload":null}}`,
			wantEvent: "inner",
		},
		{
			name:      "null data falls back to flat",
			input:     `{"event":"rooms","payload":null,"data":null}`,
			wantEvent: "rooms",
		},
		{
			name:    "not json",
			input:   `not json`,
			wantErr: true,
		},
		{
			name:    "missing event",
			input:   `{"payload":{"x":1}}`,
			wantErr: true,
		},
		{
			name:    "data wrapper is not an object",
			input:   `{"data":"rooms"}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env, err := Decode([]byte(tc.input))
			if tc.wantErr {
				if !errors.Is(err, ErrBadEnvelope) {
					t.Fatalf("want ErrBadEnvelope, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if env.Event != tc.wantEvent {
				t.Fatalf("event: got %q, want %q", env.Event, tc.wantEvent)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	wire, err := Encode(EventJoinRoom, JoinRoomPayload{RoomID: "Alpha", UserID: "bob"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != EventJoinRoom {
		t.Fatalf("event: got %q", env.Event)
	}
	var p JoinRoomPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.RoomID != "Alpha" || p.UserID != "bob" {
		t.Fatalf("payload roundtrip: %+v", p)
	}
}

func TestEncodeNilPayload(t *testing.T) {
	wire, err := Encode(EventGetRoom, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(wire) != `{"event":"get-room","payload":null}` {
		t.Fatalf("wire: %s", wire)
	}
}

func TestParsePositionCoercion(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		wantErr bool
		wantPos int
	}{
		{name: "number", payload: `{"userId":"a","position":12}`, wantPos: 12},
		{name: "string number", payload: `{"userId":"a","position":"47"}`, wantPos: 47},
		{name: "non-numeric string", payload: `{"userId":"a","position":"lots"}`, wantErr: true},
		{name: "missing userId", payload: `{"position":3}`, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			upd, err := ParsePosition(json.RawMessage(tc.payload))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if int(upd.Position) != tc.wantPos {
				t.Fatalf("position: got %d, want %d", upd.Position, tc.wantPos)
			}
		})
	}
}

func TestParsePositionBatchSkipsBadEntries(t *testing.T) {
	payload := `{"positions":[
		{"userId":"a","position":"12"},
		{"userId":"b","position":47},
		{"userId":"c","position":"broken"},
		{"position":9}
	]}`
	batch, err := ParsePositionBatch(json.RawMessage(payload))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(batch.Positions) != 2 {
		t.Fatalf("want 2 usable entries, got %d: %+v", len(batch.Positions), batch.Positions)
	}
	if batch.Positions[0].UserID != "a" || batch.Positions[0].Position != 12 {
		t.Fatalf("entry 0: %+v", batch.Positions[0])
	}
	if batch.Positions[1].UserID != "b" || batch.Positions[1].Position != 47 {
		t.Fatalf("entry 1: %+v", batch.Positions[1])
	}
}

func TestParseRoomsAndUsers(t *testing.T) {
	rooms, err := ParseRooms(json.RawMessage(`{"rooms":[{"roomId":"Alpha","users":["a","b"]}]}`))
	if err != nil {
		t.Fatalf("rooms: %v", err)
	}
	if len(rooms.Rooms) != 1 || rooms.Rooms[0].RoomID != "Alpha" {
		t.Fatalf("rooms: %+v", rooms)
	}
	if rooms.Rooms[0].Full() {
		t.Fatalf("two users should not be full")
	}

	users, err := ParseUsers(json.RawMessage(`{"users":["a","b","c"]}`))
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users.Users) != 3 {
		t.Fatalf("users: %+v", users)
	}
}

func TestRoomSummaryFull(t *testing.T) {
	r := RoomSummary{RoomID: "Alpha", Users: []string{"a", "b", "c", "d"}}
	if !r.Full() {
		t.Fatalf("four users should be full")
	}
}
