package cart

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

// KeyPrefix namespaces stored carts; the session id follows it.
const KeyPrefix = "cartItems:"

// Store is the durable key-value storage a Repository writes to.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Repository serializes whole carts under one key per session.
type Repository struct {
	store  Store
	logger *zap.Logger
}

// NewRepository wires the store; a nil logger discards corruption warnings.
func NewRepository(store Store, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{store: store, logger: logger}
}

// Load restores a session's cart. A missing or unreadable value yields an empty cart.
func (r *Repository) Load(ctx context.Context, session string) (Cart, error) {
	raw, ok, err := r.store.Get(ctx, KeyPrefix+session)
	if err != nil {
		return Cart{}, err
	}
	if !ok {
		return Cart{}, nil
	}
	c, err := Decode(raw)
	if err != nil {
		r.logger.Warn("discarding corrupt stored cart", zap.String("session", session), zap.Error(err))
		return Cart{}, nil
	}
	return c, nil
}

// Save replaces the stored cart for session.
func (r *Repository) Save(ctx context.Context, session string, c Cart) error {
	raw, err := Encode(c)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, KeyPrefix+session, raw)
}

// Delete forgets the session's cart.
func (r *Repository) Delete(ctx context.Context, session string) error {
	return r.store.Delete(ctx, KeyPrefix+session)
}

// storedItem is the on-disk line layout; price is a bare JSON number.
type storedItem struct {
	ID       int         `json:"id"`
	Name     string      `json:"name"`
	Price    json.Number `json:"price"`
	Image    string      `json:"image"`
	Quantity int         `json:"quantity"`
}

// Encode renders the cart as a JSON array of line items.
func Encode(c Cart) ([]byte, error) {
	items := make([]storedItem, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, storedItem{
			ID:       item.ID,
			Name:     item.Name,
			Price:    json.Number(item.Price.String()),
			Image:    item.Image,
			Quantity: item.Quantity,
		})
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil, errors.Wrap(err, "encode cart")
	}
	return raw, nil
}

// Decode parses a stored cart and rejects values that break cart invariants.
// Prices may be numbers or quoted strings.
func Decode(raw []byte) (Cart, error) {
	var items []LineItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return Cart{}, errors.Wrap(err, "decode cart")
	}
	seen := make(map[int]struct{}, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			return Cart{}, errors.Errorf("line %d has quantity %d", item.ID, item.Quantity)
		}
		if _, dup := seen[item.ID]; dup {
			return Cart{}, errors.Errorf("line %d appears twice", item.ID)
		}
		seen[item.ID] = struct{}{}
	}
	return Cart{Items: items}, nil
}
