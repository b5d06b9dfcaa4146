package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// publishCommand hands a freshly decoded list to the owning goroutine.
type publishCommand struct {
	devices []Device
	reply   chan error
}

// query asks the loop for a copy of the current list.
type query struct {
	reply chan snapshot
}

type snapshot struct {
	devices []Device
	loaded  bool
}

// Service owns the device list in one goroutine; callers only ever see copies.
type Service struct {
	publishes chan publishCommand
	queries   chan query
	quit      chan struct{}
	logger    *zap.Logger
}

// NewService starts the background goroutine with an empty catalog.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		publishes: make(chan publishCommand),
		queries:   make(chan query),
		quit:      make(chan struct{}),
		logger:    logger,
	}
	go svc.loop()
	return svc
}

func (s *Service) loop() {
	var (
		devices []Device
		loaded  bool
	)
	for {
		select {
		case cmd := <-s.publishes:
			if loaded {
				cmd.reply <- ErrAlreadyLoaded
				continue
			}
			devices, loaded = cmd.devices, true
			cmd.reply <- nil
		case q := <-s.queries:
			out := make([]Device, len(devices))
			copy(out, devices)
			q.reply <- snapshot{devices: out, loaded: loaded}
		case <-s.quit:
			return
		}
	}
}

// Load reads the source once and publishes the result. Any failure leaves the
// catalog empty; there is no retry.
func (s *Service) Load(ctx context.Context, src Source) ([]Device, error) {
	devices, err := s.fetch(ctx, src)
	if err != nil {
		s.logger.Warn("catalog load failed, storefront stays empty",
			zap.String("source", src.String()), zap.Error(err))
		return nil, err
	}

	reply := make(chan error, 1)
	select {
	case s.publishes <- publishCommand{devices: devices, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := <-reply; err != nil {
		return nil, err
	}
	s.logger.Info("catalog loaded", zap.String("source", src.String()), zap.Int("devices", len(devices)))
	return devices, nil
}

func (s *Service) fetch(ctx context.Context, src Source) ([]Device, error) {
	body, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return Decode(body)
}

// List returns the published devices in source order.
func (s *Service) List(ctx context.Context) ([]Device, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.devices, nil
}

// Find looks a device up by id.
func (s *Service) Find(ctx context.Context, id int) (Device, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return Device{}, err
	}
	for _, d := range snap.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return Device{}, errors.Wrapf(ErrNotFound, "id %d", id)
}

// Loaded reports whether a load has been published.
func (s *Service) Loaded(ctx context.Context) bool {
	snap, err := s.snapshot(ctx)
	return err == nil && snap.loaded
}

func (s *Service) snapshot(ctx context.Context) (snapshot, error) {
	reply := make(chan snapshot, 1)
	select {
	case s.queries <- query{reply: reply}:
	case <-ctx.Done():
		return snapshot{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return snapshot{}, errors.New("catalog queue is busy")
	}
	return <-reply, nil
}

// Close stops the background goroutine when the application shuts down.
func (s *Service) Close() {
	close(s.quit)
}
