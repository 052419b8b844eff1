package storage

import (
	"bytes"
	"errors"
	"testing"
)

// The chain carves the UTXO keyspace out of the shared DB with an "x/"
// PrefixDB while writing its own "b/"/"i/"/"h/"/"m/" keys directly; these
// tests pin the isolation that layout depends on.

func TestPrefixDB_IsolatesUTXONamespace(t *testing.T) {
	inner := NewMemory()
	utxoNS := NewPrefixDB(inner, []byte("x/"))

	// UTXO store keys as internal/utxo builds them, inside the namespace.
	utxoNS.Put([]byte("u/txid0"), []byte("utxo"))
	utxoNS.Put([]byte("a/addr0"), []byte{})

	// Chain keys written directly against the inner DB.
	inner.Put([]byte("b/hash0"), []byte("block"))
	inner.Put([]byte("m/tip"), []byte("tip"))

	// The namespace sees only its own keys.
	if has, _ := utxoNS.Has([]byte("b/hash0")); has {
		t.Error("chain keys must not be visible through the utxo namespace")
	}
	got, err := utxoNS.Get([]byte("u/txid0"))
	if err != nil || !bytes.Equal(got, []byte("utxo")) {
		t.Errorf("namespaced Get: %x, %v", got, err)
	}

	// The inner DB sees the namespaced keys only under the full prefix.
	if has, _ := inner.Has([]byte("u/txid0")); has {
		t.Error("namespaced keys must not leak to the bare inner keyspace")
	}
	if has, _ := inner.Has([]byte("x/u/txid0")); !has {
		t.Error("namespaced keys must live under the composed prefix")
	}
}

func TestPrefixDB_ForEachStripsNamespace(t *testing.T) {
	inner := NewMemory()
	ns := NewPrefixDB(inner, []byte("x/"))
	ns.Put([]byte("u/k1"), []byte{1})
	ns.Put([]byte("u/k2"), []byte{2})
	ns.Put([]byte("a/k3"), []byte{3})
	inner.Put([]byte("b/k4"), []byte{4})

	var keys [][]byte
	err := ns.ForEach([]byte("u/"), func(key, value []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("ForEach visited %d keys, want 2", len(keys))
	}
	for _, k := range keys {
		if bytes.HasPrefix(k, []byte("x/")) {
			t.Errorf("ForEach must strip the namespace prefix, got %q", k)
		}
		if !bytes.HasPrefix(k, []byte("u/")) {
			t.Errorf("unexpected key %q", k)
		}
	}
}

func TestPrefixDB_NotFoundPassesThrough(t *testing.T) {
	ns := NewPrefixDB(NewMemory(), []byte("x/"))
	if _, err := ns.Get([]byte("u/missing")); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound through the namespace, got %v", err)
	}
}

func TestPrefixDB_DeleteAll(t *testing.T) {
	inner := NewMemory()
	ns := NewPrefixDB(inner, []byte("x/"))
	ns.Put([]byte("u/k1"), []byte{1})
	ns.Put([]byte("a/k2"), []byte{2})
	inner.Put([]byte("b/keep"), []byte{3})

	if err := ns.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if has, _ := ns.Has([]byte("u/k1")); has {
		t.Error("DeleteAll must clear the namespace")
	}
	if has, _ := inner.Has([]byte("b/keep")); !has {
		t.Error("DeleteAll must not touch keys outside the namespace")
	}
}

func TestPrefixDB_SyncDelegates(t *testing.T) {
	// Memory doesn't buffer, so Sync must be a quiet no-op through the
	// wrapper; badger must reach its real flush.
	ns := NewPrefixDB(NewMemory(), []byte("x/"))
	if err := ns.Sync(); err != nil {
		t.Errorf("Sync over memory: %v", err)
	}

	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	defer db.Close()
	nsb := NewPrefixDB(db, []byte("x/"))
	nsb.Put([]byte("u/k"), []byte{1})
	if err := nsb.Sync(); err != nil {
		t.Errorf("Sync over badger: %v", err)
	}
}

func TestPrefixDB_CloseLeavesInnerOpen(t *testing.T) {
	inner := NewMemory()
	ns := NewPrefixDB(inner, []byte("x/"))
	ns.Put([]byte("u/k"), []byte{1})
	if err := ns.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if has, _ := inner.Has([]byte("x/u/k")); !has {
		t.Error("closing the namespace must not disturb the inner DB")
	}
}
