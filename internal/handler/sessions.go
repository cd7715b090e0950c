package handler

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/order-core/internal/cart"
	"github.com/shopspring/decimal"
)

// cartSession is one terminal's cart. mu guards every field below it.
type cartSession struct {
	id       uuid.UUID
	outletID uuid.UUID
	ownerID  uuid.UUID

	mu         sync.Mutex
	cart       *cart.Cart
	submitting bool
	closed     bool // dropped from the registry; handlers holding it answer 404
	touchedAt  time.Time
}

// CartSessions holds the open carts of all terminals in memory. Carts are
// never shared: each session belongs to the user that opened it.
type CartSessions struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*cartSession
	now      func() time.Time
}

// NewCartSessions creates an empty registry.
func NewCartSessions() *CartSessions {
	return &CartSessions{
		sessions: make(map[uuid.UUID]*cartSession),
		now:      time.Now,
	}
}

func (s *CartSessions) open(outletID, ownerID uuid.UUID, vatRate decimal.Decimal) *cartSession {
	sess := &cartSession{
		id:        uuid.New(),
		outletID:  outletID,
		ownerID:   ownerID,
		cart:      cart.New(vatRate),
		touchedAt: s.now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *CartSessions) get(id uuid.UUID) (*cartSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// discardIdle drops sess unless a checkout is in flight and reports whether
// it did. The registry lock is taken before the session lock, as in Sweep.
func (s *CartSessions) discardIdle(sess *cartSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.submitting {
		return false
	}
	sess.closed = true
	delete(s.sessions, sess.id)
	return true
}

func (s *CartSessions) touch(sess *cartSession) {
	sess.touchedAt = s.now()
}

// Sweep drops carts untouched for longer than maxIdle. Carts in the middle
// of a checkout are kept.
func (s *CartSessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		sess.mu.Lock()
		stale := !sess.submitting && sess.touchedAt.Before(cutoff)
		if stale {
			sess.closed = true
		}
		sess.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len is the number of open carts.
func (s *CartSessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
