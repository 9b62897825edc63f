package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/corkline/wa-sales-backend/internal/ai"
	"github.com/corkline/wa-sales-backend/internal/catalog"
	"github.com/corkline/wa-sales-backend/internal/domain"
	"github.com/corkline/wa-sales-backend/internal/images"
	"github.com/corkline/wa-sales-backend/internal/repo"
	"github.com/corkline/wa-sales-backend/internal/secure"
	"github.com/corkline/wa-sales-backend/internal/session"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestCodec(t *testing.T) *secure.Codec {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := secure.NewCodec(key)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c
}

type stubResponder struct {
	text     string
	provider string
	panics   bool
	requests []ai.Request
}

func (r *stubResponder) Respond(_ context.Context, req ai.Request) ai.Outcome {
	r.requests = append(r.requests, req)
	if r.panics {
		panic("responder exploded")
	}
	return ai.Outcome{Text: r.text, Provider: r.provider}
}

type stubTexts struct {
	err   error
	sends []string
}

func (s *stubTexts) SendText(_ context.Context, to, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sends = append(s.sends, to+"|"+body)
	return nil
}

type delivered struct {
	url     string
	caption string
}

type stubMedia struct {
	deliverErr error
	delivers   []delivered
	docs       []string
}

func (m *stubMedia) Deliver(_ context.Context, _, imageURL, caption string) (string, error) {
	if m.deliverErr != nil {
		return "", m.deliverErr
	}
	m.delivers = append(m.delivers, delivered{url: imageURL, caption: caption})
	return "upload", nil
}

func (m *stubMedia) SendDocument(_ context.Context, _, docURL, filename, _ string) error {
	m.docs = append(m.docs, docURL+"|"+filename)
	return nil
}

func testResolver(store *session.Store) *images.Resolver {
	idx := catalog.NewIndex([]catalog.Category{
		{
			Key:         "coasters",
			DisplayName: "Cork Coasters",
			Keywords:    []string{"coaster", "coasters"},
			Products: []catalog.Product{
				{ID: "c1", Name: "Round Coaster Set", Images: []string{"https://cdn.corkline.example/c1.jpg"}, Price: 450},
				{ID: "c2", Name: "Square Coaster Set", Images: []string{"https://cdn.corkline.example/c2.jpg"}, Price: 500},
			},
		},
	})
	return images.NewResolver(idx, store, images.Documents{
		General: "https://cdn.corkline.example/docs/catalogue-general.pdf",
	})
}

type replyFixture struct {
	svc      *ReplyService
	db       *gorm.DB
	sessions *session.Store
	ai       *stubResponder
	texts    *stubTexts
	media    *stubMedia
}

func newReplyFixture(t *testing.T) *replyFixture {
	t.Helper()
	db := newTestDB(t)
	sessions := session.New(session.Options{})
	responder := &stubResponder{text: "We have those in stock!", provider: "primary"}
	texts := &stubTexts{}
	media := &stubMedia{}
	svc := NewReplyService(db, newTestCodec(t), sessions, responder, testResolver(sessions), media, texts, zerolog.Nop())
	return &replyFixture{svc: svc, db: db, sessions: sessions, ai: responder, texts: texts, media: media}
}

func replyJobFor(t *testing.T, id, sender, text string) *domain.Job {
	t.Helper()
	payload, err := ReplyJob{MessageID: id, Sender: sender, Text: text, Type: "text", ReceivedAt: time.Now()}.Encode()
	if err != nil {
		t.Fatalf("encode payload: %v", err)
	}
	return &domain.Job{ID: "job-" + id, Kind: JobKindReply, Payload: payload, MaxAttempts: 3}
}

func TestProcess_AnswersPersistsAndMarksReplied(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()

	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.100", "919876543210", "do you stock trivets?")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.texts.sends) != 1 {
		t.Fatalf("sent %d texts, want 1", len(f.texts.sends))
	}
	if f.texts.sends[0] != "919876543210|We have those in stock!" {
		t.Fatalf("send = %q", f.texts.sends[0])
	}

	conv, err := repo.GetOrCreateConversation(ctx, f.db, "919876543210")
	if err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	msgs, err := repo.ListRecentMessages(ctx, f.db, f.svc.Codec, conv.ID, 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != domain.RoleCustomer || msgs[0].Content != "do you stock trivets?" {
		t.Fatalf("customer side = %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleAgent || msgs[1].Content != "We have those in stock!" || msgs[1].Provider != "primary" {
		t.Fatalf("agent side = %+v", msgs[1])
	}

	replied, err := repo.WasReplied(ctx, f.db, "wamid.100", time.Now())
	if err != nil || !replied {
		t.Fatalf("WasReplied = %v, %v; want true", replied, err)
	}
}

func TestProcess_QueueRetryDoesNotAnswerTwice(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()

	job := replyJobFor(t, "wamid.101", "919876543210", "hello there")
	if err := f.svc.Process(ctx, job); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	// A worker crash after the send but before job completion makes the
	// queue hand the same payload out again.
	if err := f.svc.Process(ctx, job); err != nil {
		t.Fatalf("second Process: %v", err)
	}

	if len(f.texts.sends) != 1 {
		t.Fatalf("sent %d texts across retries, want 1", len(f.texts.sends))
	}
	if got := len(f.ai.requests); got != 1 {
		t.Fatalf("responder called %d times, want 1", got)
	}
}

func TestProcess_SendFailureIsRetriable(t *testing.T) {
	f := newReplyFixture(t)
	f.texts.err = errors.New("graph 500")
	ctx := context.Background()

	err := f.svc.Process(ctx, replyJobFor(t, "wamid.102", "919876543210", "hello"))
	if err == nil {
		t.Fatal("Process should surface the send failure for retry")
	}

	replied, rerr := repo.WasReplied(ctx, f.db, "wamid.102", time.Now())
	if rerr != nil {
		t.Fatalf("WasReplied: %v", rerr)
	}
	if replied {
		t.Fatal("no receipt should exist for an unanswered message")
	}

	// Transport recovers; the retry answers normally.
	f.texts.err = nil
	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.102", "919876543210", "hello")); err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	if len(f.texts.sends) != 1 {
		t.Fatalf("sent %d texts, want 1", len(f.texts.sends))
	}
}

func TestProcess_FeedsStoredHistoryToResponder(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()

	conv, err := repo.GetOrCreateConversation(ctx, f.db, "919876543210")
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	if _, err := repo.AppendMessage(ctx, f.db, f.svc.Codec, conv.ID, domain.RoleCustomer, "do you ship to Pune?", "", domain.DeliverySent); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if _, err := repo.AppendMessage(ctx, f.db, f.svc.Codec, conv.ID, domain.RoleAgent, "Yes, we ship across India.", "primary", domain.DeliverySent); err != nil {
		t.Fatalf("seed message: %v", err)
	}

	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.103", "919876543210", "how long does it take?")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.ai.requests) != 1 {
		t.Fatalf("responder called %d times, want 1", len(f.ai.requests))
	}
	hist := f.ai.requests[0].History
	if len(hist) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist))
	}
	if hist[0].Role != ai.RoleUser || hist[0].Content != "do you ship to Pune?" {
		t.Fatalf("history[0] = %+v", hist[0])
	}
	if hist[1].Role != ai.RoleAssistant || hist[1].Content != "Yes, we ship across India." {
		t.Fatalf("history[1] = %+v", hist[1])
	}
}

func TestProcess_DeliversGalleryAndMarksLedger(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()

	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.104", "919876543210", "show me coasters")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.media.delivers) != 2 {
		t.Fatalf("delivered %d images, want 2", len(f.media.delivers))
	}
	if f.media.delivers[0].caption != "Round Coaster Set - Rs 450" {
		t.Fatalf("caption = %q", f.media.delivers[0].caption)
	}
	for _, d := range f.media.delivers {
		if !f.sessions.ImageSent("919876543210", d.url) {
			t.Fatalf("ledger missing %s", d.url)
		}
	}

	// The same ask again attaches nothing: every image is on the ledger.
	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.105", "919876543210", "show me coasters")); err != nil {
		t.Fatalf("second Process: %v", err)
	}
	if len(f.media.delivers) != 2 {
		t.Fatalf("delivered %d images after repeat, want still 2", len(f.media.delivers))
	}
}

func TestProcess_FailedDeliveryStaysOffLedger(t *testing.T) {
	f := newReplyFixture(t)
	f.media.deliverErr = errors.New("all tiers failed")
	ctx := context.Background()

	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.106", "919876543210", "show me coasters")); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.sessions.ImageSent("919876543210", "https://cdn.corkline.example/c1.jpg") {
		t.Fatal("failed delivery must not mark the image as sent")
	}
	if len(f.texts.sends) != 1 {
		t.Fatal("text reply should still go out when media fails")
	}
}

func TestProcess_SendsCatalogDocument(t *testing.T) {
	f := newReplyFixture(t)
	ctx := context.Background()

	if err := f.svc.Process(ctx, replyJobFor(t, "wamid.107", "919876543210", "can you send your full catalogue")); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.media.docs) != 1 {
		t.Fatalf("sent %d documents, want 1", len(f.media.docs))
	}
	want := "https://cdn.corkline.example/docs/catalogue-general.pdf|catalogue-general.pdf"
	if f.media.docs[0] != want {
		t.Fatalf("document = %q, want %q", f.media.docs[0], want)
	}
	if len(f.media.delivers) != 0 {
		t.Fatal("document turn should not also attach images")
	}
}

func TestProcess_PanicSendsApologyOnce(t *testing.T) {
	f := newReplyFixture(t)
	f.ai.panics = true
	ctx := context.Background()

	job := replyJobFor(t, "wamid.108", "919876543210", "hello")
	if err := f.svc.Process(ctx, job); err != nil {
		t.Fatalf("Process should absorb the panic, got %v", err)
	}
	if len(f.texts.sends) != 1 {
		t.Fatalf("sent %d texts, want 1 apology", len(f.texts.sends))
	}
	if f.texts.sends[0] != "919876543210|"+apologyText {
		t.Fatalf("send = %q", f.texts.sends[0])
	}

	// A retry of the same job must not apologize again.
	if err := f.svc.Process(ctx, job); err != nil {
		t.Fatalf("retry Process: %v", err)
	}
	if len(f.texts.sends) != 1 {
		t.Fatalf("sent %d texts after retry, want still 1", len(f.texts.sends))
	}
}

func TestProcess_DropsUndecodablePayload(t *testing.T) {
	f := newReplyFixture(t)

	job := &domain.Job{ID: "job-bad", Kind: JobKindReply, Payload: "{not json", MaxAttempts: 3}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("bad payload should be dropped, got %v", err)
	}
	if len(f.texts.sends) != 0 {
		t.Fatal("no sends expected for a dropped job")
	}
}

func TestDocFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://cdn.example.com/docs/general.pdf", "general.pdf"},
		{"https://cdn.example.com/docs/general.pdf?v=2", "general.pdf"},
		{"https://cdn.example.com/docs/", "catalogue.pdf"},
		{"", "catalogue.pdf"},
	}
	for _, c := range cases {
		if got := docFilename(c.in); got != c.want {
			t.Errorf("docFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestProcess_MemoryOnlyWithoutStore(t *testing.T) {
	sessions := session.New(session.Options{})
	responder := &stubResponder{text: "Happy to help!", provider: "primary"}
	texts := &stubTexts{}
	svc := NewReplyService(nil, nil, sessions, responder, nil, &stubMedia{}, texts, zerolog.Nop())

	if err := svc.Process(context.Background(), replyJobFor(t, "wamid.M1", "919876543210", "hi there")); err != nil {
		t.Fatalf("Process without store: %v", err)
	}
	if len(texts.sends) != 1 || texts.sends[0] != "919876543210|Happy to help!" {
		t.Fatalf("sends unexpected: %#v", texts.sends)
	}
	// Both sides land in memory so the next turn has context.
	if got := sessions.Recent("919876543210", 10); len(got) != 2 {
		t.Fatalf("memory snippets = %d, want 2", len(got))
	}
}
