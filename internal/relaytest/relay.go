// Package relaytest is an in-process stand-in for the relay server,
// speaking the same wire table as the real one. It exists so the
// integration tests can run two full client stacks against something
// that routes frames the way the relay does; it is not a production
// server.
package relaytest

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"snakesync/internal/codec"
)

type msg interface{ isRelayMsg() }

type join struct {
	outbox chan []byte
	reply  chan int
}

type leave struct{ id int }

type frame struct {
	id  int
	env codec.Envelope
}

type shutdown struct{}

func (join) isRelayMsg()     {}
func (leave) isRelayMsg()    {}
func (frame) isRelayMsg()    {}
func (shutdown) isRelayMsg() {}

type client struct {
	outbox chan []byte
	userID string
	roomID string
}

// Relay routes frames between connected clients grouped by room. All
// state lives on one actor goroutine fed by an inbox channel.
type Relay struct {
	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc

	nextID    int
	clients   map[int]*client
	rooms     map[string][]string       // roomID -> userIDs in join order
	positions map[string]map[string]int // roomID -> userID -> cell
}

func New(parent context.Context) *Relay {
	ctx, cancel := context.WithCancel(parent)
	r := &Relay{
		inbox:     make(chan msg, 64),
		ctx:       ctx,
		cancel:    cancel,
		clients:   make(map[int]*client),
		rooms:     make(map[string][]string),
		positions: make(map[string]map[string]int),
	}
	go r.loop()
	return r
}

// Router serves the relay's websocket endpoint at /ws.
func (r *Relay) Router() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/ws", r.handleWS)
	return mux
}

// Stop shuts the actor down and closes every client outbox.
func (r *Relay) Stop() {
	select {
	case r.inbox <- shutdown{}:
	case <-r.ctx.Done():
	}
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := websocket.Accept(w, req, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	outbox := make(chan []byte, 16)
	id := r.register(outbox)
	defer func() {
		select {
		case r.inbox <- leave{id: id}:
		case <-r.ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(req.Context())
	g.Go(func() error {
		for {
			select {
			case data, ok := <-outbox:
				if !ok {
					// Dropped by the actor; tear the connection down.
					return context.Canceled
				}
				wctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				err := conn.Write(wctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					return err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
	g.Go(func() error {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return err
			}
			env, err := codec.Decode(data)
			if err != nil {
				continue // same policy as the client: drop bad frames
			}
			select {
			case r.inbox <- frame{id: id, env: env}:
			case <-r.ctx.Done():
				return nil
			}
		}
	})
	_ = g.Wait()
}

func (r *Relay) register(outbox chan []byte) int {
	reply := make(chan int, 1)
	r.inbox <- join{outbox: outbox, reply: reply}
	return <-reply
}

func (r *Relay) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.teardown()
			return
		case m := <-r.inbox:
			switch m := m.(type) {
			case join:
				r.nextID++
				r.clients[r.nextID] = &client{outbox: m.outbox}
				m.reply <- r.nextID
			case leave:
				r.dropClient(m.id)
			case frame:
				r.route(m.id, m.env)
			case shutdown:
				r.teardown()
				return
			}
		}
	}
}

func (r *Relay) teardown() {
	for id, c := range r.clients {
		close(c.outbox)
		delete(r.clients, id)
	}
	r.cancel()
}

func (r *Relay) route(id int, env codec.Envelope) {
	c := r.clients[id]
	if c == nil {
		return
	}

	switch env.Event {
	case codec.EventGetRoom:
		r.sendTo(c, codec.EventRooms, r.roomsSnapshot())

	case codec.EventCreateRoom:
		var p codec.CreateRoomPayload
		if unmarshal(env.Payload, &p) != nil || p.RoomID == "" {
			return
		}
		if _, ok := r.rooms[p.RoomID]; !ok {
			r.rooms[p.RoomID] = []string{}
			r.positions[p.RoomID] = make(map[string]int)
		}
		r.broadcastRooms()

	case codec.EventJoinRoom:
		var p codec.JoinRoomPayload
		if unmarshal(env.Payload, &p) != nil || p.RoomID == "" || p.UserID == "" {
			return
		}
		users, ok := r.rooms[p.RoomID]
		if !ok || len(users) >= codec.MaxRoomUsers {
			return
		}
		if !slices.Contains(users, p.UserID) {
			r.rooms[p.RoomID] = append(users, p.UserID)
		}
		c.userID, c.roomID = p.UserID, p.RoomID
		r.broadcastRooms()
		r.broadcastMembers(p.RoomID)
		// Catch-up snapshot for the joiner.
		r.sendTo(c, codec.EventPositionBatch, r.positionSnapshot(p.RoomID))

	case codec.EventGetRoomsUsers:
		var p codec.RoomQueryPayload
		if unmarshal(env.Payload, &p) != nil {
			return
		}
		r.sendTo(c, codec.EventRoomsUsers, codec.MembersSnapshot{Users: r.members(p.RoomID)})

	case codec.EventSetPosition:
		var p codec.PositionPayload
		if unmarshal(env.Payload, &p) != nil || c.roomID == "" {
			return
		}
		if cells := r.positions[c.roomID]; cells != nil {
			cells[p.UserID] = p.Position
		}
		r.relayToRoom(c.roomID, id, codec.EventSetPosition, p)

	case codec.EventTurnHolder:
		var p codec.TurnPayload
		if unmarshal(env.Payload, &p) != nil {
			return
		}
		r.relayToRoom(p.RoomID, id, codec.EventTurnHolder, p)

	case codec.EventEndTurn:
		var p codec.TurnPayload
		if unmarshal(env.Payload, &p) != nil {
			return
		}
		// The relay rewrites end-turn into a holder announcement for
		// everyone in the room, the sender included.
		r.relayToRoom(p.RoomID, -1, codec.EventTurnHolder, p)
	}
}

func (r *Relay) roomsSnapshot() codec.RoomsSnapshot {
	snap := codec.RoomsSnapshot{Rooms: []codec.RoomSummary{}}
	for roomID, users := range r.rooms {
		snap.Rooms = append(snap.Rooms, codec.RoomSummary{
			RoomID: roomID,
			Users:  slices.Clone(users),
		})
	}
	slices.SortFunc(snap.Rooms, func(a, b codec.RoomSummary) int {
		return strings.Compare(a.RoomID, b.RoomID)
	})
	return snap
}

func (r *Relay) positionSnapshot(roomID string) codec.PositionBatch {
	batch := codec.PositionBatch{Positions: []codec.PositionUpdate{}}
	for userID, cell := range r.positions[roomID] {
		batch.Positions = append(batch.Positions, codec.PositionUpdate{
			UserID:   userID,
			Position: codec.FlexInt(cell),
		})
	}
	return batch
}

func (r *Relay) members(roomID string) []string {
	return slices.Clone(r.rooms[roomID])
}

func (r *Relay) broadcastRooms() {
	snap := r.roomsSnapshot()
	for id, c := range r.clients {
		if !r.sendTo(c, codec.EventRooms, snap) {
			r.dropClient(id)
		}
	}
}

func (r *Relay) broadcastMembers(roomID string) {
	snap := codec.MembersSnapshot{Users: r.members(roomID)}
	for id, c := range r.clients {
		if c.roomID != roomID {
			continue
		}
		if !r.sendTo(c, codec.EventRoomsUsers, snap) {
			r.dropClient(id)
		}
	}
}

// relayToRoom forwards a frame to every client in roomID except the
// one identified by except (-1 forwards to all, sender included).
func (r *Relay) relayToRoom(roomID string, except int, event string, payload any) {
	for id, c := range r.clients {
		if c.roomID != roomID || id == except {
			continue
		}
		if !r.sendTo(c, event, payload) {
			r.dropClient(id)
		}
	}
}

// sendTo reports false when the client's outbox is full; the caller
// drops the client, the same policy the real relay applies to slow
// consumers.
func (r *Relay) sendTo(c *client, event string, payload any) bool {
	wire, err := codec.Encode(event, payload)
	if err != nil {
		return true
	}
	select {
	case c.outbox <- wire:
		return true
	default:
		return false
	}
}

func (r *Relay) dropClient(id int) {
	if c, ok := r.clients[id]; ok {
		close(c.outbox)
		delete(r.clients, id)
	}
}

func unmarshal(data json.RawMessage, v any) error {
	return json.Unmarshal(data, v)
}
