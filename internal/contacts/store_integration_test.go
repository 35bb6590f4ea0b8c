package contacts_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sectorhub/wagateway/internal/contacts"
)

// The messages schema must already be applied (wagateway migrate up).
func setupContactStore(t *testing.T) (*contacts.Store, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("skip integration test: TEST_POSTGRES_DSN is not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Skipf("skip integration test: cannot connect to database: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("skip integration test: database ping failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return contacts.NewStore(nil, pool), pool
}

func TestStore_UpsertIsIdempotentOnPhone(t *testing.T) {
	store, pool := setupContactStore(t)
	ctx := context.Background()

	sectorID := time.Now().UnixNano() % 1_000_000_000
	phone := "5511999999999"
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM contacts WHERE sector_id = $1`, sectorID)
	})

	first, err := store.Upsert(ctx, sectorID, phone, "Ana")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := store.Upsert(ctx, sectorID, phone, "Ana Paula")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same contact row, got %d and %d", first.ID, second.ID)
	}
	if second.Name != "Ana Paula" {
		t.Fatalf("expected last name to win, got %q", second.Name)
	}

	ensured, err := store.Ensure(ctx, sectorID, phone)
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if ensured.ID != first.ID || ensured.Name != "Ana Paula" {
		t.Fatalf("ensure must not rename an existing contact: %+v", ensured)
	}

	var count int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM contacts WHERE sector_id = $1`, sectorID).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one contact, got %d", count)
	}
}

func TestStore_ListByTags(t *testing.T) {
	store, pool := setupContactStore(t)
	ctx := context.Background()

	sectorID := time.Now().UnixNano()%1_000_000_000 + 1
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM contacts WHERE sector_id = $1`, sectorID)
	})
	for i, tags := range [][]string{{"1"}, {"2", "3"}, nil} {
		if _, err := store.Save(ctx, contacts.SaveInput{
			SectorID:    sectorID,
			PhoneNumber: fmt.Sprintf("55110000000%d", i),
			Name:        fmt.Sprintf("c%d", i),
			Tags:        tags,
		}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	tagged, err := store.ListByTags(ctx, sectorID, []string{"3", "9"})
	if err != nil {
		t.Fatalf("list by tags: %v", err)
	}
	if len(tagged) != 1 || tagged[0].Name != "c1" {
		t.Fatalf("unexpected tagged contacts: %+v", tagged)
	}
	all, err := store.ListByTags(ctx, sectorID, nil)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected every contact without tags filter, got %d", len(all))
	}
}
