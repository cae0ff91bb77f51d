package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

type memBlob struct {
	key  string
	data []byte
	err  error
}

func (m *memBlob) Put(_ context.Context, key string, r io.Reader, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.key = key
	m.data, _ = io.ReadAll(r)
	return nil
}

func testSnapshot() domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		TakenAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Collections: []domain.CollectionSnapshot{{
			Symbol:  "bitmap",
			Entries: []domain.BidEntry{{TokenID: "i1", OrderID: "o1", Price: decimal.RequireFromString("0.5")}},
		}},
	}
}

func TestWriteLocalAndBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	blob := &memBlob{}
	w := NewWriter(path, blob, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := w.Write(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	var got domain.LedgerSnapshot
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Collections) != 1 || got.Collections[0].Entries[0].OrderID != "o1" {
		t.Errorf("snapshot = %+v", got)
	}
	if blob.key != "20260304T050607Z.json" || string(blob.data) != string(data) {
		t.Errorf("blob key %q, %d bytes", blob.key, len(blob.data))
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".snapshot-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left: %v", leftovers)
	}
}

func TestUploadFailureKeepsLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	w := NewWriter(path, &memBlob{err: errors.New("offline")}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := w.Write(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("local snapshot missing: %v", err)
	}
}
