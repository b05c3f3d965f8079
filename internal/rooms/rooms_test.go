package rooms

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snakesync/internal/codec"
)

// fakeConn records sends and lets tests push inbound frames straight
// into the directory's listeners.
type fakeConn struct {
	sent     []codec.Envelope
	handlers map[string][]func(codec.Envelope)
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string][]func(codec.Envelope))}
}

func (f *fakeConn) Send(event string, payload any) error {
	raw, _ := json.Marshal(payload)
	f.sent = append(f.sent, codec.Envelope{Event: event, Payload: raw})
	return nil
}

func (f *fakeConn) Listen(event string, h func(codec.Envelope)) func() {
	f.handlers[event] = append(f.handlers[event], h)
	return func() {}
}

func (f *fakeConn) push(event, payload string) {
	env := codec.Envelope{Event: event, Payload: json.RawMessage(payload)}
	for _, h := range f.handlers[event] {
		h(env)
	}
}

func TestListRoomsSendsDiscovery(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	require.NoError(t, d.ListRooms())
	require.Len(t, conn.sent, 1)
	assert.Equal(t, codec.EventGetRoom, conn.sent[0].Event)
	assert.Equal(t, "null", string(conn.sent[0].Payload))
}

func TestRoomsSnapshotReplacesWholesale(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	conn.push(codec.EventRooms, `{"rooms":[{"roomId":"Alpha","users":[]},{"roomId":"Beta","users":["x"]}]}`)
	require.Len(t, d.Rooms(), 2)

	conn.push(codec.EventRooms, `{"rooms":[{"roomId":"Beta","users":["x","y"]}]}`)
	got := d.Rooms()
	require.Len(t, got, 1, "old snapshot must not linger")
	assert.Equal(t, "Beta", got[0].RoomID)
	assert.Equal(t, []string{"x", "y"}, got[0].Users)
}

func TestMembersSnapshotReplacesWholesale(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	conn.push(codec.EventRoomsUsers, `{"users":["a","b"]}`)
	conn.push(codec.EventRoomsUsers, `{"users":["a"]}`)

	assert.Equal(t, []string{"a"}, d.Members(), "no stale member may survive a snapshot")
}

func TestJoinRoomValidation(t *testing.T) {
	cases := []struct {
		name   string
		roomID string
		userID string
		wantOK bool
	}{
		{name: "both present", roomID: "Alpha", userID: "bob", wantOK: true},
		{name: "empty room", roomID: "", userID: "bob"},
		{name: "empty user", roomID: "Alpha", userID: ""},
		{name: "both empty", roomID: "", userID: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := newFakeConn()
			d := New(conn, nil)

			err := d.JoinRoom(tc.roomID, tc.userID)
			if tc.wantOK {
				require.NoError(t, err)
				require.Len(t, conn.sent, 1)
				assert.Equal(t, codec.EventJoinRoom, conn.sent[0].Event)
				return
			}
			require.ErrorIs(t, err, ErrInvalidArgument)
			assert.Empty(t, conn.sent, "invalid join must not reach the wire")
		})
	}
}

func TestCreateRoomSendsNoOptimisticState(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	require.NoError(t, d.CreateRoom("Alpha"))
	assert.Equal(t, codec.EventCreateRoom, conn.sent[0].Event)
	assert.Empty(t, d.Rooms(), "room appears only via a rooms broadcast")
}

func TestRequestMembersSendsQuery(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	require.NoError(t, d.RequestMembers("Alpha"))
	require.Len(t, conn.sent, 1)
	var p codec.RoomQueryPayload
	require.NoError(t, json.Unmarshal(conn.sent[0].Payload, &p))
	assert.Equal(t, "Alpha", p.RoomID)
}

func TestWatchersFireAndCancel(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	var roomCalls, memberCalls int
	offRooms := d.WatchRooms(func([]codec.RoomSummary) { roomCalls++ })
	d.WatchMembers(func(users []string) {
		memberCalls++
		assert.Equal(t, []string{"bob"}, users)
	})

	conn.push(codec.EventRooms, `{"rooms":[]}`)
	conn.push(codec.EventRoomsUsers, `{"users":["bob"]}`)
	offRooms()
	offRooms() // idempotent
	conn.push(codec.EventRooms, `{"rooms":[]}`)

	assert.Equal(t, 1, roomCalls)
	assert.Equal(t, 1, memberCalls)
}

func TestMalformedBroadcastIsDropped(t *testing.T) {
	conn := newFakeConn()
	d := New(conn, nil)

	conn.push(codec.EventRooms, `{"rooms":[{"roomId":"Alpha","users":[]}]}`)
	conn.push(codec.EventRooms, `"garbage"`)

	got := d.Rooms()
	require.Len(t, got, 1, "bad frame must not clobber the last good snapshot")
	assert.Equal(t, "Alpha", got[0].RoomID)
}
