package ai

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	// aiRequests counts reply generations by source and outcome.
	aiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI reply generations by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// aiLat records provider call duration in seconds.
	aiLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Duration of AI provider calls in seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(aiRequests, aiLat)
}

// ProviderStats is the per-provider health snapshot.
type ProviderStats struct {
	Success     uint64     `json:"success"`
	Failures    uint64     `json:"failures"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	SystemPrompt string
	Providers    []Provider    // tried in order
	Fallback     *RuleFallback // nil gets a zero-value fallback
	CallTimeout  time.Duration // per-provider deadline; 0 disables
	CacheTTL     time.Duration
	CacheSize    int
	Logger       zerolog.Logger

	// Now is the clock used for failure timestamps. Tests inject a fake.
	Now func() time.Time
}

// Manager runs the provider cascade. Respond never returns an error: when
// every provider fails the rule fallback answers, so the conversation always
// moves forward.
//
// Successful provider responses are cached by normalized message text.
// Exact greetings and a few catalog phrases are answered from built-in maps
// without touching any provider; "hi" hits the greeting map while "hi do you
// have coasters" deliberately does not, so product questions keep their
// conversational context.
type Manager struct {
	opts     ManagerOptions
	fallback *RuleFallback
	cache    *expirable.LRU[string, string]

	mu    sync.Mutex
	stats map[string]*ProviderStats

	greetings map[string]string
	partials  []partialRule
}

type partialRule struct {
	needle string
	reply  string
}

// NewManager builds a Manager.
func NewManager(opts ManagerOptions) *Manager {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 3 * time.Hour
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	fb := opts.Fallback
	if fb == nil {
		fb = &RuleFallback{}
	}

	name := fb.BusinessName
	if name == "" {
		name = "our store"
	}
	welcome := "Welcome to " + name + "! What brings you here - personal use, corporate gifting, or for your business?"
	catalogReply := "I'd be happy to share our catalog! Please share your email or WhatsApp number and I'll send you detailed product images right away."

	m := &Manager{
		opts:     opts,
		fallback: fb,
		cache:    expirable.NewLRU[string, string](opts.CacheSize, nil, opts.CacheTTL),
		stats:    make(map[string]*ProviderStats),
		greetings: map[string]string{
			"hi":    welcome,
			"hello": "Hello! I'm from " + name + ". Are you looking for retail items, corporate gifts, or HORECA solutions?",
			"hey":   welcome,
		},
		partials: []partialRule{
			{needle: "catalogue", reply: catalogReply},
			{needle: "catalog", reply: catalogReply},
		},
	}
	for _, p := range opts.Providers {
		m.stats[p.Name()] = &ProviderStats{}
	}
	m.stats["fallback"] = &ProviderStats{}
	return m
}

// Respond produces a reply for req. The cascade is cache, then each provider
// in order, then the rule fallback. It never returns an empty text.
func (m *Manager) Respond(ctx context.Context, req Request) Outcome {
	norm := strings.ToLower(strings.TrimSpace(req.Text))

	if text, ok := m.checkCanned(norm); ok {
		aiRequests.WithLabelValues("cache", "hit").Inc()
		return Outcome{Text: text, Provider: "cache"}
	}
	if text, ok := m.cache.Get(norm); ok {
		aiRequests.WithLabelValues("cache", "hit").Inc()
		return Outcome{Text: text, Provider: "cache"}
	}

	for _, p := range m.opts.Providers {
		text, err := m.tryProvider(ctx, p, req.History, req.Text)
		if err == nil {
			m.cache.Add(norm, text)
			return Outcome{Text: text, Provider: p.Name()}
		}
		if err == ErrNotConfigured {
			continue
		}
		m.opts.Logger.Warn().
			Err(err).
			Str("provider", p.Name()).
			Str("sender", req.Sender).
			Msg("ai provider failed")
	}

	m.noteOutcome("fallback", nil)
	aiRequests.WithLabelValues("fallback", "success").Inc()
	return Outcome{Text: m.fallback.Respond(req.Text), Provider: "fallback"}
}

func (m *Manager) tryProvider(ctx context.Context, p Provider, history []Turn, text string) (string, error) {
	callCtx := ctx
	if m.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.opts.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	out, err := p.Complete(callCtx, m.opts.SystemPrompt, history, text)
	if err == ErrNotConfigured {
		return "", err
	}
	aiLat.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())
	m.noteOutcome(p.Name(), err)
	if err != nil {
		aiRequests.WithLabelValues(p.Name(), "failure").Inc()
		return "", err
	}
	aiRequests.WithLabelValues(p.Name(), "success").Inc()
	if strings.TrimSpace(out) == "" {
		out = "I'm here to help!"
	}
	return out, nil
}

func (m *Manager) checkCanned(norm string) (string, bool) {
	// "Hi!" and "hello." are still greetings; trailing punctuation must not
	// push them onto a provider.
	if text, ok := m.greetings[strings.TrimRight(norm, "!?.,: ")]; ok {
		return text, true
	}
	// Greetings never partial-match; "hi do you have coasters" must reach a
	// real provider with context.
	for _, r := range m.partials {
		if strings.Contains(norm, r.needle) {
			return r.reply, true
		}
	}
	return "", false
}

func (m *Manager) noteOutcome(provider string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[provider]
	if !ok {
		st = &ProviderStats{}
		m.stats[provider] = st
	}
	if err != nil {
		st.Failures++
		t := m.opts.Now()
		st.LastFailure = &t
		return
	}
	st.Success++
}

// Health returns a copy of the per-provider counters plus cache occupancy.
func (m *Manager) Health() (map[string]ProviderStats, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]ProviderStats, len(m.stats))
	for k, v := range m.stats {
		cp := *v
		if v.LastFailure != nil {
			t := *v.LastFailure
			cp.LastFailure = &t
		}
		out[k] = cp
	}
	return out, m.cache.Len()
}
