package session

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for deterministic TTL tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testStore(t *testing.T, clk *fakeClock) *Store {
	t.Helper()
	return New(Options{
		DedupSize:    4,
		SenderMinGap: 500 * time.Millisecond,
		MemoryTTL:    time.Hour,
		MemoryLimit:  3,
		Now:          clk.Now,
	})
}

func TestSeen_FirstFalseThenTrue(t *testing.T) {
	s := testStore(t, newFakeClock())

	if s.Seen("wamid.1") {
		t.Fatal("first sighting must be false")
	}
	if !s.Seen("wamid.1") {
		t.Fatal("second sighting must be true")
	}
	if s.Seen("") {
		t.Fatal("empty IDs must never deduplicate")
	}
}

func TestSeen_SizeEviction(t *testing.T) {
	s := testStore(t, newFakeClock())

	for i := 0; i < 5; i++ {
		s.Seen(fmt.Sprintf("wamid.%d", i))
	}
	// Capacity 4, so the oldest entry fell off and looks new again.
	if s.Seen("wamid.0") {
		t.Fatal("evicted ID should read as unseen")
	}
	if !s.Seen("wamid.4") {
		t.Fatal("recent ID should still be tracked")
	}
}

func TestSentImageLedger(t *testing.T) {
	s := testStore(t, newFakeClock())

	const conv = "conv-1"
	const url = "https://cdn.example.com/w1.jpg"

	if s.ImageSent(conv, url) {
		t.Fatal("unsent image reported as sent")
	}
	s.MarkImageSent(conv, url)
	if !s.ImageSent(conv, url) {
		t.Fatal("sent image not recorded")
	}
	// The ledger is per conversation.
	if s.ImageSent("conv-2", url) {
		t.Fatal("ledger leaked across conversations")
	}
}

func TestAllowSender_MinGap(t *testing.T) {
	clk := newFakeClock()
	s := testStore(t, clk)

	if !s.AllowSender("3519...") {
		t.Fatal("first send must be allowed")
	}
	if s.AllowSender("3519...") {
		t.Fatal("immediate second send must be denied")
	}
	clk.Advance(499 * time.Millisecond)
	if s.AllowSender("3519...") {
		t.Fatal("send inside the gap must be denied")
	}
	clk.Advance(1 * time.Millisecond)
	if !s.AllowSender("3519...") {
		t.Fatal("send at the gap boundary must be allowed")
	}
	// Other senders are independent.
	if !s.AllowSender("3518...") {
		t.Fatal("unrelated sender must not be throttled")
	}
}

func TestAllowSender_DeniedCallDoesNotExtendGap(t *testing.T) {
	clk := newFakeClock()
	s := testStore(t, clk)

	s.AllowSender("a")
	clk.Advance(300 * time.Millisecond)
	s.AllowSender("a") // denied
	clk.Advance(200 * time.Millisecond)
	if !s.AllowSender("a") {
		t.Fatal("gap measured from last allowed send, not last attempt")
	}
}

func TestMemory_RecentAndLimit(t *testing.T) {
	clk := newFakeClock()
	s := testStore(t, clk)

	s.Remember("a", "customer", "one")
	s.Remember("a", "agent", "two")
	s.Remember("a", "customer", "three")
	s.Remember("a", "agent", "four")

	got := s.Recent("a", 10)
	if len(got) != 3 {
		t.Fatalf("limit 3 not enforced, got %d snippets", len(got))
	}
	if got[0].Text != "two" || got[2].Text != "four" {
		t.Fatalf("unexpected window: %+v", got)
	}

	got = s.Recent("a", 2)
	if len(got) != 2 || got[0].Text != "three" {
		t.Fatalf("n-limit wrong: %+v", got)
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	clk := newFakeClock()
	s := testStore(t, clk)

	s.Remember("a", "customer", "hello")
	clk.Advance(time.Hour)
	if got := s.Recent("a", 10); got != nil {
		t.Fatalf("expired history should return nil, got %+v", got)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t, newFakeClock())
	s.Seen("m1")
	s.MarkImageSent("c", "u")
	s.Remember("a", "customer", "hi")

	dedup, sent, senders := s.Stats()
	if dedup != 1 || sent != 1 || senders != 1 {
		t.Fatalf("Stats = %d, %d, %d", dedup, sent, senders)
	}
}
