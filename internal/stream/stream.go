// Package stream fans scan decisions out to live dashboard subscribers.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/doutyacodes/knockster-org/internal/access"
)

// ScanUpdate is the wire shape pushed to SSE clients after every
// verification attempt.
type ScanUpdate struct {
	InvitationID  string    `json:"invitation_id"`
	GuardID       string    `json:"guard_id,omitempty"`
	SecurityLevel int       `json:"security_level"`
	Decision      string    `json:"decision"`
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// FromResult flattens a verification outcome into a ScanUpdate.
func FromResult(invitationID, guardID string, res access.VerificationResult, at time.Time) ScanUpdate {
	return ScanUpdate{
		InvitationID:  invitationID,
		GuardID:       guardID,
		SecurityLevel: int(res.SecurityLevel),
		Decision:      string(res.Decision),
		Reason:        res.Reason,
		Timestamp:     at,
	}
}

// Stream fan-outs scan updates to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ScanUpdate
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ScanUpdate)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// updates. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ScanUpdate {
	ch := make(chan ScanUpdate, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the update to all subscribers.
func (s *Stream) Publish(upd ScanUpdate) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- upd:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
