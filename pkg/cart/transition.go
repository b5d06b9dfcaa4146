package cart

import (
	"github.com/go-faster/errors"

	"cashfity/pkg/catalog"
)

// Op names a cart mutation.
type Op string

const (
	OpAdd      Op = "add"
	OpIncrease Op = "increase"
	OpDecrease Op = "decrease"
	OpRemove   Op = "remove"
)

// ErrUnknownOp is returned for op names outside the four mutations.
var ErrUnknownOp = errors.New("unknown cart operation")

// ParseOp validates an op name coming from a route or payload.
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case OpAdd, OpIncrease, OpDecrease, OpRemove:
		return op, nil
	default:
		return "", errors.Wrapf(ErrUnknownOp, "%q", s)
	}
}

// Command is one mutation request against a cart.
type Command struct {
	Op       Op
	DeviceID int
}

// The transitions below never modify their receiver.

// Add bumps the quantity of an existing line or appends a new one with quantity 1.
func (c Cart) Add(d catalog.Device) Cart {
	next := c.clone()
	if i := next.indexOf(d.ID); i >= 0 {
		next.Items[i].Quantity++
		return next
	}
	next.Items = append(next.Items, newLineItem(d))
	return next
}

// Increase adds one unit; unknown ids are ignored.
func (c Cart) Increase(id int) Cart {
	next := c.clone()
	if i := next.indexOf(id); i >= 0 {
		next.Items[i].Quantity++
	}
	return next
}

// Decrease removes one unit and drops the line once it reaches zero.
func (c Cart) Decrease(id int) Cart {
	next := c.clone()
	i := next.indexOf(id)
	if i < 0 {
		return next
	}
	next.Items[i].Quantity--
	if next.Items[i].Quantity <= 0 {
		next.Items = append(next.Items[:i], next.Items[i+1:]...)
	}
	return next
}

// Remove drops the line for id regardless of its quantity.
func (c Cart) Remove(id int) Cart {
	next := c.clone()
	if i := next.indexOf(id); i >= 0 {
		next.Items = append(next.Items[:i], next.Items[i+1:]...)
	}
	return next
}

// Apply runs cmd against c. device must be the catalog entry for an add and is
// ignored otherwise; a nil device makes an add a no-op.
func Apply(c Cart, cmd Command, device *catalog.Device) (Cart, error) {
	switch cmd.Op {
	case OpAdd:
		if device == nil || device.ID != cmd.DeviceID {
			return c.clone(), nil
		}
		return c.Add(*device), nil
	case OpIncrease:
		return c.Increase(cmd.DeviceID), nil
	case OpDecrease:
		return c.Decrease(cmd.DeviceID), nil
	case OpRemove:
		return c.Remove(cmd.DeviceID), nil
	default:
		return c, errors.Wrapf(ErrUnknownOp, "%q", cmd.Op)
	}
}
