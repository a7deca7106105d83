package stock

import (
	"testing"

	"github.com/bdeggleston/stockpaxos/wire"
)

func apply(t *testing.T, st *State, kind wire.CommandKind, item string, qty uint64) wire.Result {
	t.Helper()
	return st.Apply(&wire.Command{Kind: kind, Item: item, Qty: qty})
}

func TestCreateAddQuery(t *testing.T) {
	st := NewState()
	if r := apply(t, st, wire.CreateItem, "cheese", 0); r.Kind != wire.ResCreateItemOK {
		t.Fatalf("unexpected create result: %v", r.Kind)
	}
	if r := apply(t, st, wire.AddStock, "cheese", 10); r.Kind != wire.ResAddStockOK || r.Qty != 10 {
		t.Fatalf("unexpected add result: %+v", r)
	}
	if r := apply(t, st, wire.QueryStock, "cheese", 0); r.Kind != wire.ResQueryStockOK || r.Qty != 10 {
		t.Fatalf("unexpected query result: %+v", r)
	}
}

func TestDuplicateCreate(t *testing.T) {
	st := NewState()
	apply(t, st, wire.CreateItem, "bread", 0)
	if r := apply(t, st, wire.CreateItem, "bread", 0); r.Kind != wire.ResErrDuplicateItem {
		t.Fatalf("expected duplicate error, got %v", r.Kind)
	}
}

func TestInsufficientStock(t *testing.T) {
	st := NewState()
	apply(t, st, wire.CreateItem, "milk", 0)
	apply(t, st, wire.AddStock, "milk", 3)
	if r := apply(t, st, wire.RemoveStock, "milk", 5); r.Kind != wire.ResErrInsufficientStock || r.Qty != 3 {
		t.Fatalf("unexpected remove result: %+v", r)
	}
	if r := apply(t, st, wire.QueryStock, "milk", 0); r.Kind != wire.ResQueryStockOK || r.Qty != 3 {
		t.Fatalf("stock should be unchanged after failed removal: %+v", r)
	}
}

func TestOperationsOnMissingItem(t *testing.T) {
	st := NewState()
	for _, kind := range []wire.CommandKind{wire.DeleteItem, wire.AddStock, wire.RemoveStock, wire.QueryStock} {
		if r := apply(t, st, kind, "ghost", 1); r.Kind != wire.ResErrNoSuchItem {
			t.Fatalf("kind %v: expected err_no_such_item, got %v", kind, r.Kind)
		}
	}
}

func TestNonNegativeInvariant(t *testing.T) {
	st := NewState()
	apply(t, st, wire.CreateItem, "eggs", 0)
	apply(t, st, wire.AddStock, "eggs", 5)
	apply(t, st, wire.RemoveStock, "eggs", 5)
	snap := st.Snapshot()
	if snap["eggs"] != 0 {
		t.Fatalf("expected 0 stock, got %v", snap["eggs"])
	}
	// a further removal must be rejected, never driving stock negative.
	if r := apply(t, st, wire.RemoveStock, "eggs", 1); r.Kind != wire.ResErrInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", r.Kind)
	}
}

func TestDeleteThenRecreate(t *testing.T) {
	st := NewState()
	apply(t, st, wire.CreateItem, "bread", 0)
	apply(t, st, wire.DeleteItem, "bread", 0)
	if r := apply(t, st, wire.CreateItem, "bread", 0); r.Kind != wire.ResCreateItemOK {
		t.Fatalf("expected recreate to succeed after delete, got %v", r.Kind)
	}
}
