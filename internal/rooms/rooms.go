// Package rooms tracks the relay's room directory: which rooms exist
// and who is in the one we care about. All list state arrives as full
// snapshots and replaces the previous copy wholesale; the relay is the
// source of truth and a missed delta can't be detected, so nothing is
// patched incrementally.
package rooms

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"snakesync/internal/codec"
)

// ErrInvalidArgument reports an empty roomId or userId; the operation
// is a no-op and no frame is sent.
var ErrInvalidArgument = errors.New("invalid argument")

// Sender is the slice of the session the directory needs.
type Sender interface {
	Send(event string, payload any) error
	Listen(event string, h func(codec.Envelope)) func()
}

// Directory is the room directory client. Construct with New; Close
// detaches its listeners.
type Directory struct {
	conn Sender
	log  *zap.Logger

	mu      sync.Mutex
	rooms   []codec.RoomSummary
	members []string

	roomWatch   map[uint64]func([]codec.RoomSummary)
	memberWatch map[uint64]func([]string)
	nextWatch   uint64

	offs []func()
}

func New(conn Sender, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	d := &Directory{
		conn:        conn,
		log:         log,
		roomWatch:   make(map[uint64]func([]codec.RoomSummary)),
		memberWatch: make(map[uint64]func([]string)),
	}
	d.offs = append(d.offs,
		conn.Listen(codec.EventRooms, d.onRooms),
		conn.Listen(codec.EventRoomsUsers, d.onMembers),
	)
	return d
}

// Close unsubscribes the directory from the session.
func (d *Directory) Close() {
	for _, off := range d.offs {
		off()
	}
}

// ListRooms asks the relay for the current room list. The answer
// arrives asynchronously on the rooms broadcast.
func (d *Directory) ListRooms() error {
	return d.conn.Send(codec.EventGetRoom, nil)
}

// CreateRoom requests a new room. No local state is created; the room
// becomes visible once a rooms broadcast includes it.
func (d *Directory) CreateRoom(roomID string) error {
	if roomID == "" {
		return ErrInvalidArgument
	}
	return d.conn.Send(codec.EventCreateRoom, codec.CreateRoomPayload{RoomID: roomID})
}

// JoinRoom requests membership for userID in roomID.
func (d *Directory) JoinRoom(roomID, userID string) error {
	if roomID == "" || userID == "" {
		d.log.Warn("join-room with empty argument ignored",
			zap.String("roomId", roomID), zap.String("userId", userID))
		return ErrInvalidArgument
	}
	return d.conn.Send(codec.EventJoinRoom, codec.JoinRoomPayload{RoomID: roomID, UserID: userID})
}

// RequestMembers asks for the member list of one room; the answer
// arrives on the rooms-users broadcast.
func (d *Directory) RequestMembers(roomID string) error {
	if roomID == "" {
		return ErrInvalidArgument
	}
	return d.conn.Send(codec.EventGetRoomsUsers, codec.RoomQueryPayload{RoomID: roomID})
}

// Rooms returns a copy of the latest room-list snapshot.
func (d *Directory) Rooms() []codec.RoomSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]codec.RoomSummary, len(d.rooms))
	copy(out, d.rooms)
	return out
}

// Members returns a copy of the latest membership snapshot, in join
// order. Join order doubles as turn order.
func (d *Directory) Members() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.members))
	copy(out, d.members)
	return out
}

// WatchRooms calls fn with each room-list snapshot as it arrives. The
// returned func cancels the watch.
func (d *Directory) WatchRooms(fn func([]codec.RoomSummary)) func() {
	d.mu.Lock()
	d.nextWatch++
	id := d.nextWatch
	d.roomWatch[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.roomWatch, id)
		d.mu.Unlock()
	}
}

// WatchMembers calls fn with each membership snapshot as it arrives.
func (d *Directory) WatchMembers(fn func([]string)) func() {
	d.mu.Lock()
	d.nextWatch++
	id := d.nextWatch
	d.memberWatch[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.memberWatch, id)
		d.mu.Unlock()
	}
}

func (d *Directory) onRooms(env codec.Envelope) {
	snap, err := codec.ParseRooms(env.Payload)
	if err != nil {
		d.log.Debug("dropping rooms frame", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.rooms = snap.Rooms
	watchers := make([]func([]codec.RoomSummary), 0, len(d.roomWatch))
	for _, fn := range d.roomWatch {
		watchers = append(watchers, fn)
	}
	d.mu.Unlock()

	for _, fn := range watchers {
		fn(snap.Rooms)
	}
}

func (d *Directory) onMembers(env codec.Envelope) {
	snap, err := codec.ParseUsers(env.Payload)
	if err != nil {
		d.log.Debug("dropping rooms-users frame", zap.Error(err))
		return
	}

	d.mu.Lock()
	d.members = snap.Users
	watchers := make([]func([]string), 0, len(d.memberWatch))
	for _, fn := range d.memberWatch {
		watchers = append(watchers, fn)
	}
	d.mu.Unlock()

	for _, fn := range watchers {
		fn(snap.Users)
	}
}
