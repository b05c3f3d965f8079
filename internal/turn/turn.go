// Package turn decides whose move it is. The holder rotates through
// the room's membership in join order; it advances on explicit
// end-turn signals only, never inferred from position traffic.
//
// There is no server authority here: whichever client first sees the
// room reach two members announces the first holder, and each client
// computes the cyclic successor itself when it finishes a move. Racing
// announcers converge because an inbound assignment always wins and a
// duplicate naming the known holder is ignored.
package turn

import (
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"

	"snakesync/internal/codec"
)

// ErrNotYourTurn rejects a local action before any network call.
var ErrNotYourTurn = errors.New("not your turn")

// MinPlayers is the membership threshold below which nobody holds the
// turn.
const MinPlayers = 2

// Conn is the slice of the session the arbiter needs.
type Conn interface {
	Send(event string, payload any) error
	Listen(event string, h func(codec.Envelope)) func()
	IsConnected() bool
}

// Arbiter tracks and advances the turn for one room. Construct with
// New; Close detaches its listeners.
type Arbiter struct {
	conn    Conn
	log     *zap.Logger
	localID string
	roomID  string

	mu      sync.Mutex
	members []string
	holder  string

	offs []func()
}

func New(conn Conn, roomID, localID string, log *zap.Logger) *Arbiter {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Arbiter{
		conn:    conn,
		log:     log,
		localID: localID,
		roomID:  roomID,
	}
	a.offs = append(a.offs,
		conn.Listen(codec.EventRoomsUsers, a.onMembers),
		conn.Listen(codec.EventTurnHolder, a.onAssigned),
		// Some relay builds echo end-turn verbatim instead of
		// rewriting it to send-user-chance; accept both.
		conn.Listen(codec.EventEndTurn, a.onAssigned),
	)
	return a
}

// Close unsubscribes the arbiter from the session.
func (a *Arbiter) Close() {
	for _, off := range a.offs {
		off()
	}
}

// Holder returns the current turn holder, or "" before the game
// starts.
func (a *Arbiter) Holder() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder
}

// Members returns the arbiter's view of the membership, in turn order.
func (a *Arbiter) Members() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.members))
	copy(out, a.members)
	return out
}

// CanAct reports whether the local player may roll right now. This is
// a client-side guard only; the relay does not enforce it.
func (a *Arbiter) CanAct() bool {
	if !a.conn.IsConnected() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.members) >= MinPlayers && a.holder == a.localID
}

// CompleteAction consumes the local player's turn: it hands the token
// to the cyclic successor in join order and signals end-turn. The
// rendering layer calls this once its move animation has finished;
// pacing stays out of this package.
func (a *Arbiter) CompleteAction() error {
	if !a.conn.IsConnected() {
		return ErrNotYourTurn
	}

	a.mu.Lock()
	if len(a.members) < MinPlayers || a.holder != a.localID {
		a.mu.Unlock()
		return ErrNotYourTurn
	}
	next := successor(a.members, a.localID)
	a.holder = next
	a.mu.Unlock()

	a.log.Info("turn passed", zap.String("to", next))
	return a.conn.Send(codec.EventEndTurn, codec.TurnPayload{
		UserID: next,
		RoomID: a.roomID,
	})
}

// onMembers replaces the membership snapshot and, the first time the
// room reaches the player threshold with no holder known, assigns the
// first joiner and announces it so every peer converges on one source.
func (a *Arbiter) onMembers(env codec.Envelope) {
	snap, err := codec.ParseUsers(env.Payload)
	if err != nil {
		return
	}

	a.mu.Lock()
	a.members = snap.Users
	if a.holder != "" && !slices.Contains(a.members, a.holder) {
		// Holder left; pre-game state until someone re-announces.
		a.holder = ""
	}
	announce := ""
	if a.holder == "" && len(a.members) >= MinPlayers {
		a.holder = a.members[0]
		announce = a.holder
	}
	a.mu.Unlock()

	if announce != "" {
		a.log.Info("announcing first turn", zap.String("holder", announce))
		_ = a.conn.Send(codec.EventTurnHolder, codec.TurnPayload{
			UserID: announce,
			RoomID: a.roomID,
		})
	}
}

// onAssigned applies an inbound holder announcement. A duplicate for
// the already-known holder is a no-op, which makes racing announcers
// idempotent; anything else overwrites the local guess.
func (a *Arbiter) onAssigned(env codec.Envelope) {
	turn, err := codec.ParseTurn(env.Payload)
	if err != nil {
		a.log.Debug("dropping turn frame", zap.Error(err))
		return
	}
	if turn.RoomID != "" && turn.RoomID != a.roomID {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if turn.UserID == a.holder {
		return
	}
	a.holder = turn.UserID
}

// successor finds the next member after id in join order, wrapping at
// the end. Falls back to the first member if id is no longer present.
func successor(members []string, id string) string {
	i := slices.Index(members, id)
	if i < 0 {
		return members[0]
	}
	return members[(i+1)%len(members)]
}
