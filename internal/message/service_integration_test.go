package message_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sectorhub/wagateway/internal/contacts"
	"github.com/sectorhub/wagateway/internal/media"
	"github.com/sectorhub/wagateway/internal/message"
)

func setupMessageService(t *testing.T) (*message.DBService, *contacts.Store, *pgxpool.Pool) {
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
	return message.NewService(nil, pool), contacts.NewStore(nil, pool), pool
}

func TestDBService_PersistDedupAndStatus(t *testing.T) {
	svc, contactStore, pool := setupMessageService(t)
	ctx := context.Background()

	sectorID := time.Now().UnixNano() % 1_000_000_000
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM contacts WHERE sector_id = $1`, sectorID)
	})
	contact, err := contactStore.Ensure(ctx, sectorID, "5511988887777")
	if err != nil {
		t.Fatalf("ensure contact: %v", err)
	}

	wamid := fmt.Sprintf("wamid.%d", time.Now().UnixNano())
	input := message.PersistInput{
		SectorID:          sectorID,
		ContactID:         contact.ID,
		Content:           "olá",
		MediaType:         media.TypeText,
		MediaURL:          "https://ignored",
		ProviderMessageID: wamid,
		IsSent:            false,
	}
	msg, err := svc.Persist(ctx, input)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if msg.MediaURL != nil {
		t.Fatalf("text messages never carry a media url: %v", *msg.MediaURL)
	}
	if _, err := svc.Persist(ctx, input); !errors.Is(err, message.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	updated, found, err := svc.RecordStatus(ctx, message.StatusInput{ProviderMessageID: wamid, RecipientID: "5511988887777", Status: "read"})
	if err != nil || !found {
		t.Fatalf("record status: found=%v err=%v", found, err)
	}
	if !updated.IsRead || !updated.IsSent {
		t.Fatalf("read status should set both flags: %+v", updated)
	}

	list, err := svc.ListByContact(ctx, contact.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != msg.ID {
		t.Fatalf("unexpected list: %+v", list)
	}
}
