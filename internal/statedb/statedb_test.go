package statedb

import (
	"encoding/json"
	"testing"

	"github.com/halcyon-labs/halcyon-chain/internal/storage"
	"github.com/halcyon-labs/halcyon-chain/pkg/tx"
)

func setOp(t *testing.T, ref string, value interface{}) tx.Operation {
	t.Helper()
	op, err := tx.SetValue(ref, value)
	if err != nil {
		t.Fatalf("build op: %v", err)
	}
	return op
}

func rawTx(op tx.Operation) *tx.Transaction {
	return &tx.Transaction{Operation: op, Nonce: tx.NonceNotApplicable, Timestamp: 1, SkipVerif: true}
}

func TestSetAndGetValue(t *testing.T) {
	db := New(storage.NewMemory())

	if err := db.SetValue("/a/b", json.RawMessage(`42`)); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetValue("a/b/") // sloppy path normalizes
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "42" {
		t.Errorf("got %s, want 42", got)
	}

	if missing, err := db.GetValue("/a/missing"); err != nil || missing != nil {
		t.Errorf("missing value = %s (%v), want nil", missing, err)
	}
}

func TestNullDeletesSubtree(t *testing.T) {
	db := New(storage.NewMemory())
	for _, p := range []string{"/c/root", "/c/root/x", "/c/root/x/y", "/c/other"} {
		if err := db.SetValue(p, json.RawMessage(`1`)); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.SetValue("/c/root", json.RawMessage(`null`)); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{"/c/root", "/c/root/x", "/c/root/x/y"} {
		if got, _ := db.GetValue(p); got != nil {
			t.Errorf("%s survived null delete", p)
		}
	}
	if got, _ := db.GetValue("/c/other"); got == nil {
		t.Error("sibling deleted by subtree delete")
	}
}

func TestExecuteTransactionList(t *testing.T) {
	db := New(storage.NewMemory())

	txs := []*tx.Transaction{
		rawTx(setOp(t, "/k/1", 1)),
		rawTx(tx.SetList(setOp(t, "/k/2", 2), tx.DeleteValue("/k/1"))),
	}
	if err := db.ExecuteTransactionList(txs); err != nil {
		t.Fatal(err)
	}

	if got, _ := db.GetValue("/k/1"); got != nil {
		t.Error("/k/1 should be deleted by the op list")
	}
	var v int
	if found, err := db.GetJSON("/k/2", &v); err != nil || !found || v != 2 {
		t.Errorf("/k/2 = %d found=%v err=%v, want 2", v, found, err)
	}
}

func TestSetToSnapshotCopies(t *testing.T) {
	src := New(storage.NewMemory())
	dst := New(storage.NewMemory())

	src.SetValue("/s/1", json.RawMessage(`"one"`))
	dst.SetValue("/stale", json.RawMessage(`true`))

	if err := dst.SetToSnapshot(src); err != nil {
		t.Fatal(err)
	}
	if got, _ := dst.GetValue("/stale"); got != nil {
		t.Error("stale key survived snapshot copy")
	}
	equal, err := dst.Equal(src)
	if err != nil {
		t.Fatal(err)
	}
	if !equal {
		t.Error("copy differs from source")
	}

	// The copy is independent: mutating dst leaves src untouched.
	dst.SetValue("/s/2", json.RawMessage(`2`))
	if got, _ := src.GetValue("/s/2"); got != nil {
		t.Error("mutating the copy leaked into the source")
	}
}

func TestForEachPrefixOrdered(t *testing.T) {
	db := New(storage.NewMemory())
	db.SetValue("/reg/a", json.RawMessage(`1`))
	db.SetValue("/reg/b", json.RawMessage(`2`))
	db.SetValue("/other", json.RawMessage(`3`))

	var paths []string
	err := db.ForEach("/reg", func(path string, _ json.RawMessage) error {
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 || paths[0] != "/reg/a" || paths[1] != "/reg/b" {
		t.Errorf("paths = %v, want [/reg/a /reg/b]", paths)
	}
}
