package repo

import (
	"context"
	"testing"

	"github.com/corkline/wa-sales-backend/internal/domain"
)

func TestGetOrCreateConversation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv, err := GetOrCreateConversation(ctx, db, "351912000001")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" || conv.Status != domain.ConversationActive {
		t.Fatalf("unexpected conversation: %+v", conv)
	}

	// Second call for the same phone returns the same conversation.
	again, err := GetOrCreateConversation(ctx, db, "351912000001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("conversation duplicated: %s vs %s", again.ID, conv.ID)
	}

	// A customer row was created alongside.
	var cust domain.Customer
	if err := db.Where("phone = ?", "351912000001").First(&cust).Error; err != nil {
		t.Fatalf("customer row: %v", err)
	}
}

func TestGetOrCreateConversation_EmptyPhone(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetOrCreateConversation(context.Background(), db, "  "); err == nil {
		t.Fatal("expected error for blank phone")
	}
}

func TestUpdateConversationStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	conv, err := GetOrCreateConversation(ctx, db, "351912000002")
	if err != nil {
		t.Fatal(err)
	}
	if err := UpdateConversationStatus(ctx, db, conv.ID, domain.ConversationClosed); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := GetConversation(ctx, db, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ConversationClosed {
		t.Fatalf("status = %q", got.Status)
	}
	if err := UpdateConversationStatus(ctx, db, "missing", domain.ConversationClosed); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListConversationsPage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, phone := range []string{"1", "2", "3"} {
		if _, err := GetOrCreateConversation(ctx, db, phone); err != nil {
			t.Fatal(err)
		}
	}
	page, err := ListConversationsPage(ctx, db, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d", len(page))
	}
	total, err := CountConversations(ctx, db)
	if err != nil || total != 3 {
		t.Fatalf("total = %d err = %v", total, err)
	}
}

func TestUpsertCustomerProfile_EncryptsAtRest(t *testing.T) {
	db := newTestDB(t)
	codec := newTestCodec(t)
	ctx := context.Background()

	if err := UpsertCustomerProfile(ctx, db, codec, "351912000003", "Ana", "ana@example.com"); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var raw domain.Customer
	if err := db.Where("phone = ?", "351912000003").First(&raw).Error; err != nil {
		t.Fatal(err)
	}
	if raw.Name == "Ana" || raw.Email == "ana@example.com" {
		t.Fatal("profile stored in plaintext")
	}
	if got, err := codec.Decrypt(raw.Name); err != nil || got != "Ana" {
		t.Fatalf("decrypt name: %q, %v", got, err)
	}

	// Second upsert updates in place.
	if err := UpsertCustomerProfile(ctx, db, codec, "351912000003", "Ana Maria", "ana@example.com"); err != nil {
		t.Fatal(err)
	}
	var count int64
	db.Model(&domain.Customer{}).Where("phone = ?", "351912000003").Count(&count)
	if count != 1 {
		t.Fatalf("customer rows = %d", count)
	}
}
