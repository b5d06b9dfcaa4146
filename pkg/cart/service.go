package cart

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"cashfity/pkg/catalog"
)

// Catalog resolves devices for add commands.
type Catalog interface {
	Find(ctx context.Context, id int) (catalog.Device, error)
}

// Result is what a mutation produced.
type Result struct {
	Cart Cart
	// Device is set when an add matched a catalog entry.
	Device *catalog.Device
}

// command envelopes the work the service goroutine must perform.
type command struct {
	ctx     context.Context
	action  string
	session string
	cmd     Command
	device  *catalog.Device
	reply   chan commandResult
}

type commandResult struct {
	cart Cart
	err  error
}

// Service serializes every cart read and write through one goroutine, so a
// mutation and the write that persists it are never interleaved with another request.
type Service struct {
	repo     *Repository
	catalog  Catalog
	commands chan command
	quit     chan struct{}
	logger   *zap.Logger
}

// NewService launches the coordinating goroutine immediately.
func NewService(repo *Repository, cat Catalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		repo:     repo,
		catalog:  cat,
		commands: make(chan command),
		quit:     make(chan struct{}),
		logger:   logger,
	}
	go svc.loop()
	return svc
}

func (s *Service) loop() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- s.handle(cmd)
		case <-s.quit:
			return
		}
	}
}

// handle runs storage calls on the caller's context, so a caller that gave up
// cannot have its write commit afterwards.
func (s *Service) handle(cmd command) commandResult {
	ctx := cmd.ctx
	if err := ctx.Err(); err != nil {
		return commandResult{err: err}
	}
	current, err := s.repo.Load(ctx, cmd.session)
	if err != nil {
		return commandResult{err: err}
	}
	switch cmd.action {
	case "get":
		return commandResult{cart: current}
	case "clear":
		if err := s.repo.Delete(ctx, cmd.session); err != nil {
			return commandResult{err: err}
		}
		return commandResult{}
	case "mutate":
		next, err := Apply(current, cmd.cmd, cmd.device)
		if err != nil {
			return commandResult{err: err}
		}
		if err := s.repo.Save(ctx, cmd.session, next); err != nil {
			return commandResult{err: err}
		}
		return commandResult{cart: next}
	default:
		return commandResult{err: errors.Errorf("unknown cart action %s", cmd.action)}
	}
}

// Mutate applies cmd to the session's cart and persists the result before returning.
// An add for a device the catalog does not know is silently ignored.
func (s *Service) Mutate(ctx context.Context, session string, cmd Command) (Result, error) {
	if _, err := ParseOp(string(cmd.Op)); err != nil {
		return Result{}, err
	}
	if cmd.Op == OpAdd {
		device, err := s.catalog.Find(ctx, cmd.DeviceID)
		if errors.Is(err, catalog.ErrNotFound) {
			s.logger.Debug("ignoring add for unknown device", zap.Int("device_id", cmd.DeviceID))
			c, err := s.Get(ctx, session)
			return Result{Cart: c}, err
		}
		if err != nil {
			return Result{}, err
		}
		c, err := s.dispatch(ctx, command{action: "mutate", session: session, cmd: cmd, device: &device})
		if err != nil {
			return Result{}, err
		}
		return Result{Cart: c, Device: &device}, nil
	}
	c, err := s.dispatch(ctx, command{action: "mutate", session: session, cmd: cmd})
	return Result{Cart: c}, err
}

// Get returns the session's cart.
func (s *Service) Get(ctx context.Context, session string) (Cart, error) {
	return s.dispatch(ctx, command{action: "get", session: session})
}

// Clear drops the session's stored cart.
func (s *Service) Clear(ctx context.Context, session string) error {
	_, err := s.dispatch(ctx, command{action: "clear", session: session})
	return err
}

// dispatch hands cmd to the loop. Once accepted, the reply is always awaited:
// handle is bounded by ctx and reports exactly what reached storage.
func (s *Service) dispatch(ctx context.Context, cmd command) (Cart, error) {
	cmd.ctx = ctx
	cmd.reply = make(chan commandResult, 1)

	select {
	case s.commands <- cmd:
	case <-ctx.Done():
		return Cart{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return Cart{}, errors.New("cart queue is busy")
	}

	res := <-cmd.reply
	return res.cart, res.err
}

// Close stops the goroutine to allow graceful shutdown.
func (s *Service) Close() {
	close(s.quit)
}
