// Package notify keeps short-lived per-session messages for the page to show.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Lifetime is how long a notification stays visible.
const Lifetime = 3 * time.Second

// Kind selects the notification styling.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is one transient message.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Message   string    `json:"message"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining is the visible time left at now, never negative.
func (n Notification) Remaining(now time.Time) time.Duration {
	if d := n.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

type pushCommand struct {
	session string
	note    Notification
}

type activeQuery struct {
	session string
	reply   chan []Notification
}

// Service stacks notifications per session and sweeps expired ones. There is
// no queue limit and no de-duplication.
type Service struct {
	now     func() time.Time
	pushes  chan pushCommand
	queries chan activeQuery
	quit    chan struct{}
	done    chan struct{}
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService starts the owning goroutine; it sweeps every sweepEvery.
func NewService(sweepEvery time.Duration, opts ...Option) *Service {
	s := &Service{
		now:     time.Now,
		pushes:  make(chan pushCommand),
		queries: make(chan activeQuery),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.loop(sweepEvery)
	return s
}

func (s *Service) loop(sweepEvery time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	pending := make(map[string][]Notification)
	for {
		select {
		case cmd := <-s.pushes:
			pending[cmd.session] = append(pending[cmd.session], cmd.note)
		case q := <-s.queries:
			now := s.now()
			var active []Notification
			for _, n := range pending[q.session] {
				if n.ExpiresAt.After(now) {
					active = append(active, n)
				}
			}
			q.reply <- active
		case <-ticker.C:
			sweep(pending, s.now())
		case <-s.quit:
			return
		}
	}
}

// sweep drops expired notifications and sessions left with none.
func sweep(pending map[string][]Notification, now time.Time) {
	for session, notes := range pending {
		kept := notes[:0]
		for _, n := range notes {
			if n.ExpiresAt.After(now) {
				kept = append(kept, n)
			}
		}
		if len(kept) == 0 {
			delete(pending, session)
			continue
		}
		pending[session] = kept
	}
}

// Notify shows message to session for Lifetime.
func (s *Service) Notify(ctx context.Context, session, message string, kind Kind) (Notification, error) {
	now := s.now()
	note := Notification{
		ID:        uuid.New(),
		Message:   message,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(Lifetime),
	}
	select {
	case s.pushes <- pushCommand{session: session, note: note}:
		return note, nil
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return Notification{}, errors.New("notification queue is busy")
	}
}

// Active lists the session's unexpired notifications, oldest first.
func (s *Service) Active(ctx context.Context, session string) ([]Notification, error) {
	reply := make(chan []Notification, 1)
	select {
	case s.queries <- activeQuery{session: session, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
		return nil, errors.New("notification queue is busy")
	}
	return <-reply, nil
}

// Close stops the sweeper and waits for it to exit.
func (s *Service) Close() {
	close(s.quit)
	<-s.done
}
