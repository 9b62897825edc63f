// Package catalog provides a simple, deterministic, concurrency-safe in-memory
// index over the product reference data. It is intentionally small, but
// engineered with production-grade ergonomics:
//
//   - No logging in the library (callers decide how/what to log)
//   - Clear, documented types and functional options (Option pattern)
//   - Reads run against an immutable snapshot; Reload swaps snapshots atomically
//   - Deterministic scoring and ordering (catalog declaration order wins ties)
//   - Tunable scoring weights and minimum-score gates
//
// Scoring is a weighted sum over phrase and token matches against product
// names, aliases, tags, and category keywords. The minimum-score gate scales
// with token count so single-word queries need a lower absolute score than
// multi-word ones. Ties break by declaration order, first wins; that is a
// documented determinism choice, not a claim of deeper relevance.
package catalog

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Product is one sellable item. Images are ordered; the first is primary.
// Price is an opaque number in currency minor units.
type Product struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Images  []string `json:"images,omitempty"`
	Price   int      `json:"price,omitempty"`
}

// Category groups products under a key with its own match keywords.
type Category struct {
	Key         string    `json:"key"`
	DisplayName string    `json:"display_name"`
	Keywords    []string  `json:"keywords,omitempty"`
	Products    []Product `json:"products"`
}

// Match is one ranked search hit.
type Match struct {
	Product     *Product
	CategoryKey string
	Score       int
}

// Weights are the scoring constants. The defaults reproduce the tuning the
// catalog shipped with; they are exposed as options because the specific
// values were never validated against query logs.
type Weights struct {
	PhraseName    int // full query phrase contained in product name
	PhraseAlias   int // full query phrase contained in an alias
	TokenTag      int // per-token exact tag match
	TokenAlias    int // per-token containment in an alias
	TokenName     int // per-token containment in the name
	CategoryBonus int // query overlaps the category keyword set
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	weights        Weights
	minScoreSingle int
	minScoreMulti  int
	stopwords      map[string]struct{}
}

func defaultConfig() config {
	return config{
		weights: Weights{
			PhraseName:    100,
			PhraseAlias:   50,
			TokenTag:      20,
			TokenAlias:    10,
			TokenName:     5,
			CategoryBonus: 5,
		},
		minScoreSingle: 10,
		minScoreMulti:  15,
		stopwords:      defaultStopwords(),
	}
}

func defaultStopwords() map[string]struct{} {
	return map[string]struct{}{
		"the": {}, "and": {}, "for": {}, "with": {},
	}
}

// WithWeights overrides the scoring constants.
func WithWeights(w Weights) Option {
	return func(c *config) { c.weights = w }
}

// WithMinScores overrides the gates for single-token and multi-token queries.
func WithMinScores(single, multi int) Option {
	return func(c *config) {
		if single >= 0 {
			c.minScoreSingle = single
		}
		if multi >= 0 {
			c.minScoreMulti = multi
		}
	}
}

// WithStopwords replaces the stop-word set used during tokenization.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// ----------------------------------------------------------------------------
// Index

// Index is the catalog search structure. Reads operate on an immutable
// categories snapshot; Reload swaps in a freshly parsed snapshot, so matches
// handed out before a reload stay valid.
type Index struct {
	cfg config

	mu   sync.RWMutex
	cats []Category
}

type catalogFile struct {
	Categories []Category `json:"categories"`
}

// Load reads a catalog JSON file and builds an Index.
func Load(path string, opts ...Option) (*Index, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f catalogFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	return NewIndex(f.Categories, opts...), nil
}

// NewIndex builds an Index directly from categories. Declaration order is
// preserved and is the tie-break order for equal scores.
func NewIndex(cats []Category, opts ...Option) *Index {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &Index{cfg: cfg, cats: cats}
}

// Reload re-reads the catalog file and swaps in the new snapshot. On any
// error the previous snapshot stays in service.
func (ix *Index) Reload(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f catalogFile
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.cats = f.Categories
	ix.mu.Unlock()
	return nil
}

// snapshot returns the current categories slice. The slice is never mutated
// after a swap, so callers may read it without further locking.
func (ix *Index) snapshot() []Category {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.cats
}

// Categories returns the catalog in declaration order.
func (ix *Index) Categories() []Category { return ix.snapshot() }

// Search tokenizes text and returns ranked matches above the minimum-score
// gate, best first. Equal scores keep catalog declaration order. A query with
// no significant tokens, or nothing above the gate, returns nil; Search never
// fails.
func (ix *Index) Search(text string) []Match {
	tokens := ix.tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	phrase := strings.Join(tokens, " ")

	gate := ix.cfg.minScoreMulti
	if len(tokens) == 1 {
		gate = ix.cfg.minScoreSingle
	}

	cats := ix.snapshot()
	var out []Match
	for ci := range cats {
		cat := &cats[ci]
		bonus := 0
		if ix.categoryOverlap(cat, tokens) {
			bonus = ix.cfg.weights.CategoryBonus
		}
		for pi := range cat.Products {
			p := &cat.Products[pi]
			base := ix.scoreProduct(p, phrase, tokens)
			score := base + bonus
			// The bonus never qualifies a product on its own.
			if base > 0 && score >= gate {
				out = append(out, Match{Product: p, CategoryKey: cat.Key, Score: score})
			}
		}
	}

	// Insertion sort keeps declaration order on ties and is plenty for a
	// catalog of this size.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Best returns the single top match, if any.
func (ix *Index) Best(text string) (Match, bool) {
	res := ix.Search(text)
	if len(res) == 0 {
		return Match{}, false
	}
	return res[0], true
}

// Browse returns up to limit products of a category in declaration order.
// An unknown key returns nil.
func (ix *Index) Browse(categoryKey string, limit int) []Product {
	cats := ix.snapshot()
	for ci := range cats {
		if cats[ci].Key != categoryKey {
			continue
		}
		ps := cats[ci].Products
		if limit > 0 && limit < len(ps) {
			ps = ps[:limit]
		}
		out := make([]Product, len(ps))
		copy(out, ps)
		return out
	}
	return nil
}

// ResolveCategory maps free text onto a category key via keyword overlap.
// The first declared category whose keyword set overlaps the query tokens
// wins; ok is false when nothing matches.
func (ix *Index) ResolveCategory(text string) (key string, ok bool) {
	tokens := ix.tokenize(text)
	if len(tokens) == 0 {
		return "", false
	}
	cats := ix.snapshot()
	for ci := range cats {
		if ix.categoryOverlap(&cats[ci], tokens) {
			return cats[ci].Key, true
		}
	}
	return "", false
}

// HasTerm reports whether any significant token of text appears anywhere in
// the catalog (names, aliases, tags, or category keywords). Used by the image
// resolver to distinguish "unknown noun" from "known but unmatched".
func (ix *Index) HasTerm(text string) bool {
	tokens := ix.tokenize(text)
	if len(tokens) == 0 {
		return false
	}
	cats := ix.snapshot()
	for ci := range cats {
		cat := &cats[ci]
		if ix.categoryOverlap(cat, tokens) {
			return true
		}
		for pi := range cat.Products {
			p := &cat.Products[pi]
			for _, tok := range tokens {
				if strings.Contains(normalize(p.Name), tok) {
					return true
				}
				for _, a := range p.Aliases {
					if strings.Contains(normalize(a), tok) {
						return true
					}
				}
				for _, tg := range p.Tags {
					if normalize(tg) == tok {
						return true
					}
				}
			}
		}
	}
	return false
}

// Stats summarizes the loaded catalog for the operational endpoints.
func (ix *Index) Stats() (categories, products, images int) {
	cats := ix.snapshot()
	categories = len(cats)
	for ci := range cats {
		products += len(cats[ci].Products)
		for pi := range cats[ci].Products {
			images += len(cats[ci].Products[pi].Images)
		}
	}
	return
}

// ----------------------------------------------------------------------------
// Scoring

func (ix *Index) scoreProduct(p *Product, phrase string, tokens []string) int {
	w := ix.cfg.weights
	score := 0

	name := normalize(p.Name)
	if strings.Contains(name, phrase) {
		score += w.PhraseName
	}
	for _, alias := range p.Aliases {
		a := normalize(alias)
		if strings.Contains(a, phrase) {
			score += w.PhraseAlias
		}
		for _, tok := range tokens {
			if strings.Contains(a, tok) {
				score += w.TokenAlias
			}
		}
	}
	for _, tag := range p.Tags {
		tg := normalize(tag)
		for _, tok := range tokens {
			if tg == tok {
				score += w.TokenTag
			}
		}
	}
	for _, tok := range tokens {
		if strings.Contains(name, tok) {
			score += w.TokenName
		}
	}
	return score
}

func (ix *Index) categoryOverlap(cat *Category, tokens []string) bool {
	for _, kw := range cat.Keywords {
		k := normalize(kw)
		for _, tok := range tokens {
			if strings.Contains(k, tok) || strings.Contains(tok, k) {
				return true
			}
		}
	}
	return false
}

// tokenize normalizes text and drops stop-words and tokens of <=2 runes.
func (ix *Index) tokenize(text string) []string {
	fields := strings.Fields(normalize(text))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
			continue
		}
		if _, stop := ix.cfg.stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

// normalize lowercases, folds diacritics, strips punctuation, and collapses
// whitespace, so "Café Décor" matches a customer typing "cafe decor".
func normalize(s string) string {
	s = norm.NFD.String(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Mn, r): // combining mark from NFD, drop it
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevSpace = false
		case r >= 0x80: // keep non-ASCII letters as-is
			b.WriteRune(r)
			prevSpace = false
		default:
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
