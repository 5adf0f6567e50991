package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/uwol/computational-economy-sub002/internal/invariant"
	"github.com/uwol/computational-economy-sub002/internal/model"
	"github.com/uwol/computational-economy-sub002/internal/settlement"
)

var (
	ErrInsufficientGoods = errors.New("ledger: not enough goods in inventory")
	ErrNotPropertyOwner  = errors.New("ledger: property belongs to another owner")
	ErrPropertyExists    = errors.New("ledger: property already issued")
)

// Inventory tracks goods per owner and the owner of every property.
type Inventory struct {
	mu         sync.RWMutex
	goods      map[model.AgentID]model.Bundle
	properties map[model.PropertyID]model.AgentID
}

var _ settlement.Ownership = (*Inventory)(nil)

// NewInventory creates an empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		goods:      make(map[model.AgentID]model.Bundle),
		properties: make(map[model.PropertyID]model.AgentID),
	}
}

// Add credits amount units of good to owner, e.g. after production.
func (i *Inventory) Add(owner model.AgentID, good model.GoodType, amount float64) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.add(owner, good, amount)
	return nil
}

func (i *Inventory) add(owner model.AgentID, good model.GoodType, amount float64) {
	b, ok := i.goods[owner]
	if !ok {
		b = make(model.Bundle)
		i.goods[owner] = b
	}
	b[good] += amount
}

func (i *Inventory) remove(owner model.AgentID, good model.GoodType, amount float64) error {
	b := i.goods[owner]
	held := b[good]
	if !invariant.LessOrEqual(amount, held) {
		return fmt.Errorf("%w: %s holds %v %s, needs %v", ErrInsufficientGoods, owner, held, good, amount)
	}
	if b != nil {
		b[good] = math.Max(0, held-amount)
	}
	return nil
}

// Consume removes amount units of good from owner, e.g. as production input
// or household consumption.
func (i *Inventory) Consume(owner model.AgentID, good model.GoodType, amount float64) error {
	if !validAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.remove(owner, good, amount)
}

// Amount returns how many units of good owner holds.
func (i *Inventory) Amount(owner model.AgentID, good model.GoodType) float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.goods[owner][good]
}

// Goods returns a copy of everything owner holds.
func (i *Inventory) Goods(owner model.AgentID) model.Bundle {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.goods[owner].Clone()
}

// TransferGood moves amount units of good from one owner to another.
func (i *Inventory) TransferGood(ctx context.Context, good model.GoodType, from, to model.AgentID, amount float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !validAmount(amount) {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.remove(from, good, amount); err != nil {
		return err
	}
	i.add(to, good, amount)
	return nil
}

// Issue records owner as the holder of a new property.
func (i *Inventory) Issue(property model.PropertyID, owner model.AgentID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.properties[property]; ok {
		return fmt.Errorf("%w: %s", ErrPropertyExists, property)
	}
	i.properties[property] = owner
	return nil
}

// Owner returns the holder of property.
func (i *Inventory) Owner(property model.PropertyID) (model.AgentID, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	owner, ok := i.properties[property]
	return owner, ok
}

// TransferProperty hands property from its current owner to another.
func (i *Inventory) TransferProperty(ctx context.Context, property model.PropertyID, from, to model.AgentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if owner := i.properties[property]; owner != from {
		return fmt.Errorf("%w: %s is held by %q", ErrNotPropertyOwner, property, owner)
	}
	i.properties[property] = to
	return nil
}
