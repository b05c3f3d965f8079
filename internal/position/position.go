// Package position keeps every player's board cell in sync. The local
// player is the authority on its own position and publishes changes;
// remote positions are merged from single updates and from the bulk
// catch-up snapshot pushed on room entry. Later-arriving updates win —
// the transport gives no cross-message ordering, so a stale update can
// regress a remote pawn; that is a known limitation, not corrected
// here.
package position

import (
	"math/rand"
	"sync"

	"go.uber.org/zap"

	"snakesync/internal/codec"
)

// Board bounds. Cell 1 is the start, cell 100 the goal.
const (
	BoardMin = 1
	BoardMax = 100
)

// Snakes maps a snake's mouth to its tail, Ladders a ladder's foot to
// its top. Landing on a key teleports the pawn to the value.
var (
	Snakes  = map[int]int{26: 5, 44: 12, 61: 39, 90: 31, 98: 21}
	Ladders = map[int]int{3: 37, 14: 32, 46: 65, 57: 91}
)

// Resolve applies the snake or ladder on cell, if any.
func Resolve(cell int) int {
	if to, ok := Ladders[cell]; ok {
		return to
	}
	if to, ok := Snakes[cell]; ok {
		return to
	}
	return cell
}

// Roll returns one die throw, 1..6.
func Roll() int {
	return rand.Intn(6) + 1
}

// Sender is the slice of the session the synchronizer needs.
type Sender interface {
	Send(event string, payload any) error
	Listen(event string, h func(codec.Envelope)) func()
}

// Synchronizer owns the PositionMap for one room. Construct with New;
// Close detaches its listeners.
type Synchronizer struct {
	conn    Sender
	log     *zap.Logger
	localID string

	mu        sync.Mutex
	positions map[string]int
	watch     map[uint64]func(map[string]int)
	nextWatch uint64

	offs []func()
}

func New(conn Sender, localID string, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Synchronizer{
		conn:      conn,
		log:       log,
		localID:   localID,
		positions: make(map[string]int),
		watch:     make(map[uint64]func(map[string]int)),
	}
	p.offs = append(p.offs,
		conn.Listen(codec.EventSetPosition, p.onUpdate),
		conn.Listen(codec.EventPositionBatch, p.onBatch),
		conn.Listen(codec.EventRoomsUsers, p.onMembers),
	)
	return p
}

// Close unsubscribes the synchronizer from the session.
func (p *Synchronizer) Close() {
	for _, off := range p.offs {
		off()
	}
}

// SetLocal records the local player's new cell and publishes it.
// Re-setting the current value is a no-op and sends nothing.
func (p *Synchronizer) SetLocal(pos int) error {
	pos = clamp(pos)

	p.mu.Lock()
	if cur, ok := p.positions[p.localID]; ok && cur == pos {
		p.mu.Unlock()
		return nil
	}
	p.positions[p.localID] = pos
	p.mu.Unlock()
	p.notify()

	return p.conn.Send(codec.EventSetPosition, codec.PositionPayload{
		UserID:   p.localID,
		Position: pos,
	})
}

// Position returns one player's cell.
func (p *Synchronizer) Position(userID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pos, ok := p.positions[userID]
	return pos, ok
}

// Positions returns a copy of the whole map.
func (p *Synchronizer) Positions() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Watch calls fn with a fresh snapshot after every change. The
// returned func cancels the watch.
func (p *Synchronizer) Watch(fn func(map[string]int)) func() {
	p.mu.Lock()
	p.nextWatch++
	id := p.nextWatch
	p.watch[id] = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		delete(p.watch, id)
		p.mu.Unlock()
	}
}

func (p *Synchronizer) onUpdate(env codec.Envelope) {
	upd, err := codec.ParsePosition(env.Payload)
	if err != nil {
		p.log.Debug("dropping set-position frame", zap.Error(err))
		return
	}
	if p.apply(upd.UserID, int(upd.Position)) {
		p.notify()
	}
}

func (p *Synchronizer) onBatch(env codec.Envelope) {
	batch, err := codec.ParsePositionBatch(env.Payload)
	if err != nil {
		p.log.Debug("dropping position batch", zap.Error(err))
		return
	}
	changed := false
	for _, upd := range batch.Positions {
		if p.apply(upd.UserID, int(upd.Position)) {
			changed = true
		}
	}
	if changed {
		p.notify()
	}
}

// onMembers enforces the map invariant against the membership
// snapshot: every member has an entry (default start cell), nobody
// else has one.
func (p *Synchronizer) onMembers(env codec.Envelope) {
	snap, err := codec.ParseUsers(env.Payload)
	if err != nil {
		return
	}

	p.mu.Lock()
	inRoom := make(map[string]bool, len(snap.Users))
	changed := false
	for _, id := range snap.Users {
		inRoom[id] = true
		if _, ok := p.positions[id]; !ok {
			p.positions[id] = BoardMin
			changed = true
		}
	}
	for id := range p.positions {
		if !inRoom[id] {
			delete(p.positions, id)
			changed = true
		}
	}
	p.mu.Unlock()

	if changed {
		p.notify()
	}
}

// apply merges one remote update. Reports whether the map changed;
// identical updates are no-ops, which makes the merge idempotent.
func (p *Synchronizer) apply(userID string, pos int) bool {
	if userID == p.localID {
		// We are the authority on our own pawn; a relayed echo must
		// not overwrite a fresher local move.
		return false
	}
	pos = clamp(pos)

	p.mu.Lock()
	defer p.mu.Unlock()
	if cur, ok := p.positions[userID]; ok && cur == pos {
		return false
	}
	p.positions[userID] = pos
	return true
}

func (p *Synchronizer) notify() {
	p.mu.Lock()
	snap := p.snapshotLocked()
	watchers := make([]func(map[string]int), 0, len(p.watch))
	for _, fn := range p.watch {
		watchers = append(watchers, fn)
	}
	p.mu.Unlock()

	for _, fn := range watchers {
		fn(snap)
	}
}

func (p *Synchronizer) snapshotLocked() map[string]int {
	out := make(map[string]int, len(p.positions))
	for id, pos := range p.positions {
		out[id] = pos
	}
	return out
}

func clamp(pos int) int {
	if pos < BoardMin {
		return BoardMin
	}
	if pos > BoardMax {
		return BoardMax
	}
	return pos
}
