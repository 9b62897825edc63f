// Package session holds the process-local conversational state that does not
// belong in the database: webhook delivery dedup, the per-conversation
// sent-image ledger, per-sender pacing, and a short-lived in-memory message
// history used when the database is unavailable.
//
// Everything here is best-effort and bounded. Entries expire on TTLs and the
// maps are capped, so a restart loses nothing that cannot be recomputed or
// tolerated (at worst a duplicate webhook is reprocessed up to the durable
// reply ledger, or a gallery repeats an image).
//
// This type is safe for concurrent use.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Snippet is one remembered exchange line for the in-memory history fallback.
type Snippet struct {
	Role string
	Text string
	At   time.Time
}

// Options tune the store. Zero values fall back to the defaults the service
// ships with.
type Options struct {
	DedupTTL     time.Duration // webhook message-ID dedup window
	DedupSize    int           // max tracked message IDs
	SentImageTTL time.Duration // how long a sent image URL suppresses resends
	SentImageMax int
	MemoryTTL    time.Duration // in-memory history retention
	SenderMinGap time.Duration // minimum spacing between messages per sender
	MemoryLimit  int           // max snippets kept per sender

	// Now is the clock. Tests inject a fake; nil means time.Now.
	Now func() time.Time
}

func (o *Options) defaults() {
	if o.DedupTTL <= 0 {
		o.DedupTTL = 5 * time.Minute
	}
	if o.DedupSize <= 0 {
		o.DedupSize = 1000
	}
	if o.SentImageTTL <= 0 {
		o.SentImageTTL = 24 * time.Hour
	}
	if o.SentImageMax <= 0 {
		o.SentImageMax = 5000
	}
	if o.MemoryTTL <= 0 {
		o.MemoryTTL = time.Hour
	}
	if o.SenderMinGap < 0 {
		o.SenderMinGap = 0
	}
	if o.MemoryLimit <= 0 {
		o.MemoryLimit = 50
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Store is the conversational state container.
type Store struct {
	opts Options

	dedup *expirable.LRU[string, struct{}]
	sent  *expirable.LRU[string, struct{}]

	mu       sync.Mutex
	lastSend map[string]time.Time
	memory   map[string]*senderMemory
	sweepN   uint64
}

type senderMemory struct {
	snippets []Snippet
	lastSeen time.Time
}

// New builds a Store with the given options.
func New(opts Options) *Store {
	opts.defaults()
	return &Store{
		opts:     opts,
		dedup:    expirable.NewLRU[string, struct{}](opts.DedupSize, nil, opts.DedupTTL),
		sent:     expirable.NewLRU[string, struct{}](opts.SentImageMax, nil, opts.SentImageTTL),
		lastSend: make(map[string]time.Time),
		memory:   make(map[string]*senderMemory),
	}
}

// ----------------------------------------------------------------------------
// Webhook dedup

// Seen records messageID and reports whether it was already present. The
// first call for an ID returns false; calls within the TTL return true.
// Empty IDs are never deduplicated.
func (s *Store) Seen(messageID string) bool {
	if messageID == "" {
		return false
	}
	if _, ok := s.dedup.Get(messageID); ok {
		return true
	}
	s.dedup.Add(messageID, struct{}{})
	return false
}

// ----------------------------------------------------------------------------
// Sent-image ledger

// MarkImageSent records that url was delivered to conversationID.
func (s *Store) MarkImageSent(conversationID, url string) {
	if conversationID == "" || url == "" {
		return
	}
	s.sent.Add(conversationID+"|"+url, struct{}{})
}

// ImageSent reports whether url was delivered to conversationID within the
// retention window.
func (s *Store) ImageSent(conversationID, url string) bool {
	_, ok := s.sent.Get(conversationID + "|" + url)
	return ok
}

// ----------------------------------------------------------------------------
// Per-sender pacing

// AllowSender reports whether sender may be messaged now, enforcing the
// minimum gap between outbound sends. Allowed calls advance the sender's
// timestamp; denied calls do not.
func (s *Store) AllowSender(sender string) bool {
	if s.opts.SenderMinGap == 0 {
		return true
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(now)

	if last, ok := s.lastSend[sender]; ok && now.Sub(last) < s.opts.SenderMinGap {
		return false
	}
	s.lastSend[sender] = now
	return true
}

// ----------------------------------------------------------------------------
// In-memory history fallback

// Remember appends a snippet to the sender's in-memory history. Oldest
// entries fall off past the per-sender limit.
func (s *Store) Remember(sender, role, text string) {
	if sender == "" || text == "" {
		return
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.maybeSweepLocked(now)

	m, ok := s.memory[sender]
	if !ok {
		m = &senderMemory{}
		s.memory[sender] = m
	}
	m.lastSeen = now
	m.snippets = append(m.snippets, Snippet{Role: role, Text: text, At: now})
	if over := len(m.snippets) - s.opts.MemoryLimit; over > 0 {
		m.snippets = append(m.snippets[:0:0], m.snippets[over:]...)
	}
}

// Recent returns up to n newest snippets for sender, oldest first. Expired
// history returns nil.
func (s *Store) Recent(sender string, n int) []Snippet {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.memory[sender]
	if !ok || now.Sub(m.lastSeen) >= s.opts.MemoryTTL {
		return nil
	}
	snips := m.snippets
	if n > 0 && n < len(snips) {
		snips = snips[len(snips)-n:]
	}
	out := make([]Snippet, len(snips))
	copy(out, snips)
	return out
}

// maybeSweepLocked evicts expired pacing and memory entries after a threshold
// of lookups, keeping both maps bounded without a background goroutine.
// Callers must hold s.mu.
func (s *Store) maybeSweepLocked(now time.Time) {
	s.sweepN++
	if s.sweepN < 2000 {
		return
	}
	s.sweepN = 0
	s.sweepLocked(now)
}

func (s *Store) sweepLocked(now time.Time) {
	for k, t := range s.lastSend {
		if now.Sub(t) >= 10*s.opts.SenderMinGap && now.Sub(t) >= time.Minute {
			delete(s.lastSend, k)
		}
	}
	for k, m := range s.memory {
		if now.Sub(m.lastSeen) >= s.opts.MemoryTTL {
			delete(s.memory, k)
		}
	}
}

// StartSweeper runs periodic eviction until ctx is done. The opportunistic
// sweep already bounds memory under load; this covers long idle stretches.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				now := s.opts.Now()
				s.mu.Lock()
				s.sweepLocked(now)
				s.mu.Unlock()
			}
		}
	}()
}

// Stats reports current occupancy for the operational endpoints.
func (s *Store) Stats() (dedup, sentImages, senders int) {
	s.mu.Lock()
	senders = len(s.memory)
	s.mu.Unlock()
	return s.dedup.Len(), s.sent.Len(), senders
}
