package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// backends runs a subtest against both DB implementations, badger on a
// temp dir and the in-memory map.
func backends(t *testing.T, fn func(t *testing.T, db DB)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("badger", func(t *testing.T) {
		db, err := NewBadger(t.TempDir())
		if err != nil {
			t.Fatalf("NewBadger: %v", err)
		}
		defer db.Close()
		fn(t, db)
	})
}

func TestDB_GetPutDelete(t *testing.T) {
	backends(t, func(t *testing.T, db DB) {
		key := []byte("m/tip")
		if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get on missing key: want ErrNotFound, got %v", err)
		}
		if has, _ := db.Has(key); has {
			t.Error("Has on missing key should be false")
		}

		if err := db.Put(key, []byte{0xaa, 0xbb}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := db.Get(key)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !bytes.Equal(got, []byte{0xaa, 0xbb}) {
			t.Errorf("Get: got %x", got)
		}
		if has, _ := db.Has(key); !has {
			t.Error("Has after Put should be true")
		}

		if err := db.Delete(key); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get after Delete: want ErrNotFound, got %v", err)
		}
		// Deleting an absent key is not an error.
		if err := db.Delete(key); err != nil {
			t.Errorf("Delete on missing key: %v", err)
		}
	})
}

// ForEach must walk a prefix in ascending key order — the chain's height
// map ("h/" + big-endian height) relies on that to read heights in order.
func TestDB_ForEachOrderedByKey(t *testing.T) {
	backends(t, func(t *testing.T, db DB) {
		heights := []uint64{5, 1, 3, 2, 4}
		for _, h := range heights {
			key := append([]byte("h/"), byte(h))
			db.Put(key, []byte{byte(h)})
		}
		db.Put([]byte("b/other"), []byte{0xff}) // outside the prefix

		var seen []byte
		err := db.ForEach([]byte("h/"), func(key, value []byte) error {
			seen = append(seen, value[0])
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach: %v", err)
		}
		if !bytes.Equal(seen, []byte{1, 2, 3, 4, 5}) {
			t.Errorf("ForEach order: got %v, want ascending heights", seen)
		}
	})
}

func TestDB_ForEachStopsOnError(t *testing.T) {
	backends(t, func(t *testing.T, db DB) {
		for i := byte(0); i < 5; i++ {
			db.Put([]byte{'u', '/', i}, []byte{i})
		}
		visited := 0
		wantErr := fmt.Errorf("stop here")
		err := db.ForEach([]byte("u/"), func(key, value []byte) error {
			visited++
			if visited == 2 {
				return wantErr
			}
			return nil
		})
		if !errors.Is(err, wantErr) {
			t.Errorf("ForEach should surface fn's error, got %v", err)
		}
		if visited != 2 {
			t.Errorf("ForEach should stop early: visited %d", visited)
		}
	})
}

// The peer loop and miner hit the store from separate goroutines while the
// chain holds its own lock for writes; the backends must at least survive
// concurrent readers against a writer.
func TestDB_ConcurrentAccess(t *testing.T) {
	backends(t, func(t *testing.T, db DB) {
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					key := []byte{byte(w), byte(i)}
					db.Put(key, key)
					db.Get(key)
					db.Has(key)
				}
			}(w)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				db.ForEach(nil, func(key, value []byte) error { return nil })
			}
		}()
		wg.Wait()
	})
}

func TestBadgerDB_SyncAndPersistence(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	if err := db.Put([]byte("m/tip"), []byte{0x01}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get([]byte("m/tip"))
	if err != nil || !bytes.Equal(got, []byte{0x01}) {
		t.Errorf("value must survive close/reopen: %x, %v", got, err)
	}
}

func TestMemoryDB_GetReturnsCopy(t *testing.T) {
	db := NewMemory()
	db.Put([]byte("k"), []byte{1, 2, 3})

	got, _ := db.Get([]byte("k"))
	got[0] = 0xff

	again, _ := db.Get([]byte("k"))
	if again[0] != 1 {
		t.Error("mutating a Get result must not corrupt the stored value")
	}
}
