package wa

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var waDeliveries = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "wa_image_deliveries_total",
		Help: "Total image delivery attempts by tier and outcome.",
	},
	[]string{"tier", "outcome"},
)

func init() {
	prometheus.MustRegister(waDeliveries)
}

// Delivery tiers, best first.
const (
	TierUpload = "upload" // fetch, compress, upload, send by handle
	TierLink   = "link"   // send by direct external link
	TierText   = "text"   // plain text containing the link
)

// allowedImageTypes gate fetched payloads.
var allowedImageTypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
	"image/webp": {},
	"image/gif":  {},
}

// Validator is the pre-fetch URL check. Production uses *URLValidator.
type Validator interface {
	Validate(ctx context.Context, url string) error
	Allowed(url string) bool
}

// DelivererOptions configures a Deliverer.
type DelivererOptions struct {
	Client      *Client
	Validator   Validator
	Fetcher     *http.Client  // for source image downloads
	MaxDownload int64         // byte cap on fetched images
	TargetSize  int64         // recompress above this
	HardCap     int64         // never send above this
	HandleTTL   time.Duration // media handle freshness, under the channel's 24h expiry
	CacheSize   int
	Logger      zerolog.Logger
}

// Deliverer turns an image locator into a delivered message, degrading
// through tiers: media upload and send-by-handle, then send-by-link, then a
// text message carrying the link. Uploaded handles are cached per source URL
// so repeated sends of the same product image skip the fetch and upload.
type Deliverer struct {
	opts    DelivererOptions
	handles *expirable.LRU[string, string]
}

// NewDeliverer builds a Deliverer.
func NewDeliverer(opts DelivererOptions) *Deliverer {
	if opts.Fetcher == nil {
		opts.Fetcher = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxDownload <= 0 {
		opts.MaxDownload = 18 << 20
	}
	if opts.TargetSize <= 0 {
		opts.TargetSize = 5 << 20
	}
	if opts.HardCap <= 0 {
		opts.HardCap = 16 << 20
	}
	if opts.HandleTTL <= 0 {
		opts.HandleTTL = 23 * time.Hour
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1000
	}
	return &Deliverer{
		opts:    opts,
		handles: expirable.NewLRU[string, string](opts.CacheSize, nil, opts.HandleTTL),
	}
}

// Allowed pre-filters a source URL without fetching.
func (d *Deliverer) Allowed(url string) bool {
	return d.opts.Validator == nil || d.opts.Validator.Allowed(url)
}

// Deliver sends one image with caption to the recipient, returning the tier
// that succeeded. Validation failures are terminal; transport failures fall
// through the tiers. Only a failure of every tier returns an error.
func (d *Deliverer) Deliver(ctx context.Context, to, imageURL, caption string) (string, error) {
	if d.opts.Validator != nil {
		if err := d.opts.Validator.Validate(ctx, imageURL); err != nil {
			waDeliveries.WithLabelValues(TierUpload, "blocked").Inc()
			return "", err
		}
	}

	if err := d.deliverByUpload(ctx, to, imageURL, caption); err == nil {
		waDeliveries.WithLabelValues(TierUpload, "success").Inc()
		return TierUpload, nil
	} else {
		waDeliveries.WithLabelValues(TierUpload, "failure").Inc()
		d.opts.Logger.Warn().Err(err).Str("url", imageURL).Msg("upload tier failed, trying link send")
	}

	if err := d.opts.Client.SendImageByLink(ctx, to, imageURL, caption); err == nil {
		waDeliveries.WithLabelValues(TierLink, "success").Inc()
		return TierLink, nil
	} else {
		waDeliveries.WithLabelValues(TierLink, "failure").Inc()
		d.opts.Logger.Warn().Err(err).Str("url", imageURL).Msg("link tier failed, trying text fallback")
	}

	body := caption
	if body != "" {
		body += "\n\n"
	}
	body += "View image: " + imageURL
	if err := d.opts.Client.SendText(ctx, to, body); err != nil {
		waDeliveries.WithLabelValues(TierText, "failure").Inc()
		return "", fmt.Errorf("all delivery tiers failed: %w", err)
	}
	waDeliveries.WithLabelValues(TierText, "success").Inc()
	return TierText, nil
}

// SendDocument delivers a catalog PDF by link, with a text-link fallback.
func (d *Deliverer) SendDocument(ctx context.Context, to, docURL, filename, caption string) error {
	if err := d.opts.Client.SendDocument(ctx, to, docURL, filename, caption); err == nil {
		return nil
	}
	body := caption
	if body != "" {
		body += "\n\n"
	}
	body += "Download: " + docURL
	return d.opts.Client.SendText(ctx, to, body)
}

func (d *Deliverer) deliverByUpload(ctx context.Context, to, imageURL, caption string) error {
	mediaID, ok := d.handles.Get(imageURL)
	if !ok {
		data, contentType, err := d.fetch(ctx, imageURL)
		if err != nil {
			return err
		}
		data, contentType, err = Prepare(data, contentType, d.opts.TargetSize, d.opts.HardCap)
		if err != nil {
			return err
		}
		mediaID, err = d.opts.Client.UploadMedia(ctx, data, contentType)
		if err != nil {
			return err
		}
		d.handles.Add(imageURL, mediaID)
	}

	if err := d.opts.Client.SendImageByID(ctx, to, mediaID, caption); err != nil {
		// The handle may have expired server-side; drop it so the next
		// attempt re-uploads.
		d.handles.Remove(imageURL)
		return err
	}
	return nil
}

func (d *Deliverer) fetch(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	resp, err := d.opts.Fetcher.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("wa: fetch status %d", resp.StatusCode)
	}

	contentType := strings.ToLower(strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0]))
	if _, ok := allowedImageTypes[contentType]; !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrBadContentType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxDownload+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > d.opts.MaxDownload {
		return nil, "", fmt.Errorf("%w: exceeds %d byte download cap", ErrTooLarge, d.opts.MaxDownload)
	}
	return data, contentType, nil
}

// CacheLen reports cached media handles for the stats endpoint.
func (d *Deliverer) CacheLen() int { return d.handles.Len() }
