package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		opts     domain.ListOpts
		want     string
		wantArgs int
	}{
		{
			name: "no filters",
			want: "SELECT id, event, collection, token_id, detail, created_at FROM bid_audit ORDER BY created_at DESC, id DESC",
		},
		{
			name:     "collection since and page",
			opts:     domain.ListOpts{Collection: "bitmap", Since: &since, Limit: 10, Offset: 20},
			want:     "SELECT id, event, collection, token_id, detail, created_at FROM bid_audit WHERE collection = $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
			wantArgs: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := listQuery(tt.opts)
			if got != tt.want {
				t.Errorf("query =\n%s\nwant\n%s", got, tt.want)
			}
			if len(args) != tt.wantArgs {
				t.Errorf("args = %v", args)
			}
		})
	}
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames()
	if err != nil {
		t.Fatalf("migrationNames: %v", err)
	}
	if len(names) == 0 || names[0] != "001_bid_audit.sql" {
		t.Errorf("names = %v", names)
	}
}

// TestAuditRoundTrip needs a database at BIDBOT_TEST_POSTGRES_DSN.
func TestAuditRoundTrip(t *testing.T) {
	dsn := os.Getenv("BIDBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("BIDBOT_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()
	if err := c.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	store := NewAuditStore(c.Pool())
	symbol := "test-" + time.Now().Format("150405.000000")
	if err := store.Log(ctx, domain.AuditEntry{Event: "bid_created", Collection: symbol, TokenID: "i1", Detail: map[string]any{"price": "0.5"}}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	got, err := store.List(ctx, domain.ListOpts{Collection: symbol})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].TokenID != "i1" || got[0].Detail["price"] != "0.5" {
		t.Errorf("entries = %+v", got)
	}
}
