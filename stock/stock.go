// Package stock implements the deterministic application state from
// spec.md section 3: a mapping from item name to non-negative stock
// level, mutated only by applying decided commands.
//
// Adapted from the teacher's store.Store / store/redis.go: the same
// string-keyed command dispatch idiom, with Redis's GET/SET/DEL
// replaced by the five stock operations.
package stock

import (
	"sync"

	"github.com/bdeggleston/stockpaxos/wire"
)

// State is one replica's application state: items and their
// non-negative stock levels.
type State struct {
	mu    sync.RWMutex
	items map[string]uint64
}

// NewState returns an empty item table.
func NewState() *State {
	return &State{items: make(map[string]uint64)}
}

// Snapshot returns a defensive copy of the current item table, used
// by tests checking conservation/agreement invariants.
func (st *State) Snapshot() map[string]uint64 {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]uint64, len(st.items))
	for k, v := range st.items {
		out[k] = v
	}
	return out
}

// Apply runs cmd against the state and returns the deterministic
// result, per spec.md section 4.2's command semantics. Apply never
// returns an error: every outcome, success or failure, is expressed
// as a wire.Result so that replicas applying the same decided command
// always compute the same reply.
func (st *State) Apply(cmd *wire.Command) wire.Result {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch cmd.Kind {
	case wire.CreateItem:
		if _, exists := st.items[cmd.Item]; exists {
			return wire.Result{Kind: wire.ResErrDuplicateItem}
		}
		st.items[cmd.Item] = 0
		return wire.Result{Kind: wire.ResCreateItemOK}

	case wire.DeleteItem:
		if _, exists := st.items[cmd.Item]; !exists {
			return wire.Result{Kind: wire.ResErrNoSuchItem}
		}
		delete(st.items, cmd.Item)
		return wire.Result{Kind: wire.ResDeleteItemOK}

	case wire.AddStock:
		qty, exists := st.items[cmd.Item]
		if !exists {
			return wire.Result{Kind: wire.ResErrNoSuchItem}
		}
		qty += cmd.Qty
		st.items[cmd.Item] = qty
		return wire.Result{Kind: wire.ResAddStockOK, Qty: qty}

	case wire.RemoveStock:
		qty, exists := st.items[cmd.Item]
		if !exists {
			return wire.Result{Kind: wire.ResErrNoSuchItem}
		}
		if qty < cmd.Qty {
			return wire.Result{Kind: wire.ResErrInsufficientStock, Qty: qty}
		}
		qty -= cmd.Qty
		st.items[cmd.Item] = qty
		return wire.Result{Kind: wire.ResRemoveStockOK, Qty: qty}

	case wire.QueryStock:
		qty, exists := st.items[cmd.Item]
		if !exists {
			return wire.Result{Kind: wire.ResErrNoSuchItem}
		}
		return wire.Result{Kind: wire.ResQueryStockOK, Qty: qty}

	default:
		return wire.Result{Kind: wire.ResErrNoSuchItem}
	}
}
