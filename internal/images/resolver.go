// Package images decides whether an inbound customer message should be
// answered with product images or a catalog document, and which. Decisions
// are made from the customer's text only; the agent's reply never feeds the
// resolver, so the bot's own "let me show you" phrasing cannot trigger an
// unsolicited send.
package images

import (
	"strconv"
	"strings"

	"github.com/corkline/wa-sales-backend/internal/catalog"
)

// Attachment is one image to deliver.
type Attachment struct {
	URL     string
	Caption string
}

// Decision is the resolver outcome. At most one of Document, Images,
// NothingNew, or Suppress is meaningful; zero values mean "send nothing".
type Decision struct {
	// Document is a static catalog PDF locator. It supersedes image logic
	// for the turn.
	Document string

	Images []Attachment

	// NothingNew means the matched gallery exists but every image was
	// already sent to this customer.
	NothingNew bool

	// Suppress means the customer named something we knowingly do not
	// carry; the conversational layer should say so instead of attaching
	// an unrelated image.
	Suppress bool
}

// SentLedger answers whether an image URL was already delivered to a
// customer. Implemented by session.Store.
type SentLedger interface {
	ImageSent(customerID, url string) bool
}

// Documents are the static catalog PDF locators by sub-intent. Empty entries
// disable that document.
type Documents struct {
	General string
	Horeca  string
	Gifting string
}

// Resolver applies the ordered decision rules.
type Resolver struct {
	idx     *catalog.Index
	ledger  SentLedger
	docs    Documents
	gallery int

	// allowed pre-filters image URLs; nil allows all. Delivery re-validates.
	allowed func(url string) bool
}

// ResolverOption customizes a Resolver.
type ResolverOption func(*Resolver)

// WithGallerySize caps category galleries. Values <= 0 keep the default of 6.
func WithGallerySize(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.gallery = n
		}
	}
}

// WithURLFilter installs a pre-delivery URL filter, typically the media
// adapter's source-domain check.
func WithURLFilter(f func(url string) bool) ResolverOption {
	return func(r *Resolver) { r.allowed = f }
}

// NewResolver builds a Resolver over the catalog index and sent-image ledger.
func NewResolver(idx *catalog.Index, ledger SentLedger, docs Documents, opts ...ResolverOption) *Resolver {
	r := &Resolver{idx: idx, ledger: ledger, docs: docs, gallery: 6}
	for _, o := range opts {
		o(r)
	}
	return r
}

var documentTriggers = []string{"catalog", "catalogue", "brochure", "pdf", "full range", "price list", "pricelist"}

var horecaCues = []string{"horeca", "hotel", "restaurant", "cafe", "bar ", "hospitality"}

var giftingCues = []string{"gift", "combo", "hamper", "corporate"}

var imageTriggers = []string{"show", "photo", "picture", "image", "pic", "send", "share", "see"}

var pronounCues = []string{"the same", "those", "these", " it "}

// nonProductTerms are things customers ask about that are not sellable items.
var nonProductTerms = []string{"packaging", "box", "wrapping", "invoice", "delivery", "shipping"}

// Resolve applies the decision rules in order, first match wins. recent is
// the customer's prior messages, newest last; only the latest ten are
// consulted for pronoun resolution.
func (r *Resolver) Resolve(customerID, text string, recent []string) Decision {
	norm := " " + normalizeText(text) + " "

	// 1. Document requests beat everything else this turn.
	if containsAny(norm, documentTriggers) {
		return Decision{Document: r.pickDocument(norm)}
	}

	trigger := r.hasImageTrigger(norm)
	if !trigger {
		return Decision{}
	}

	// 2. Explicit category ask: a bounded gallery of unsent images.
	if key, ok := r.idx.ResolveCategory(text); ok {
		return r.categoryGallery(customerID, key)
	}

	// 3. Pronoun asks inherit the most recent category mention.
	if containsAny(norm, pronounCues) {
		if key, ok := r.recentCategory(recent); ok {
			return r.categoryGallery(customerID, key)
		}
	}

	// 4. Named non-product terms suppress before any product scoring runs.
	// "photo of the gift box" names "box", and a gift-tagged product
	// clearing the score gate must not answer it with an image.
	if containsAny(norm, nonProductTerms) {
		return Decision{Suppress: true}
	}

	// 5. Specific product ask: single best match.
	if m, ok := r.idx.Best(text); ok {
		if att, ok := r.firstUnsent(customerID, m); ok {
			return Decision{Images: []Attachment{att}}
		}
		return Decision{NothingNew: true}
	}

	// 6. Nouns absent from the catalog get an explicit suppress rather than
	// a wrong image.
	if !r.idx.HasTerm(text) {
		return Decision{Suppress: true}
	}

	// 7. Nothing to attach.
	return Decision{}
}

func (r *Resolver) pickDocument(norm string) string {
	switch {
	case r.docs.Horeca != "" && containsAny(norm, horecaCues):
		return r.docs.Horeca
	case r.docs.Gifting != "" && containsAny(norm, giftingCues):
		return r.docs.Gifting
	default:
		return r.docs.General
	}
}

// hasImageTrigger detects an image-request word while ignoring "photo" and
// "picture" when they are part of a product noun like "photo frame". norm is
// space-padded, so matching " t " is a whole-token match: "sending" and
// "seems" do not fire "send" or "see".
func (r *Resolver) hasImageTrigger(norm string) bool {
	for _, t := range imageTriggers {
		if !strings.Contains(norm, " "+t+" ") {
			continue
		}
		if (t == "photo" || t == "picture" || t == "pic") && strings.Contains(norm, " "+t+" frame") {
			continue
		}
		return true
	}
	return false
}

func (r *Resolver) categoryGallery(customerID, categoryKey string) Decision {
	products := r.idx.Browse(categoryKey, 0)
	if len(products) == 0 {
		return Decision{}
	}
	var out []Attachment
	sawAny := false
	for _, p := range products {
		for _, u := range p.Images {
			if r.allowed != nil && !r.allowed(u) {
				continue
			}
			sawAny = true
			if r.ledger != nil && r.ledger.ImageSent(customerID, u) {
				continue
			}
			out = append(out, Attachment{URL: u, Caption: caption(p)})
			break // one image per product keeps the gallery varied
		}
		if len(out) >= r.gallery {
			break
		}
	}
	if len(out) == 0 {
		if sawAny {
			return Decision{NothingNew: true}
		}
		return Decision{}
	}
	return Decision{Images: out}
}

func (r *Resolver) firstUnsent(customerID string, m catalog.Match) (Attachment, bool) {
	for _, u := range m.Product.Images {
		if r.allowed != nil && !r.allowed(u) {
			continue
		}
		if r.ledger != nil && r.ledger.ImageSent(customerID, u) {
			continue
		}
		return Attachment{URL: u, Caption: caption(*m.Product)}, true
	}
	return Attachment{}, false
}

// recentCategory scans snippets newest-first for the latest category mention.
func (r *Resolver) recentCategory(recent []string) (string, bool) {
	const window = 10
	start := 0
	if len(recent) > window {
		start = len(recent) - window
	}
	for i := len(recent) - 1; i >= start; i-- {
		if key, ok := r.idx.ResolveCategory(recent[i]); ok {
			return key, true
		}
	}
	return "", false
}

func caption(p catalog.Product) string {
	if p.Price > 0 {
		return p.Name + " - Rs " + strconv.Itoa(p.Price)
	}
	return p.Name
}

func containsAny(norm string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(norm, n) {
			return true
		}
	}
	return false
}

func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
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
