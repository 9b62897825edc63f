package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/ai"
	"github.com/corkline/wa-sales-backend/internal/catalog"
	"github.com/corkline/wa-sales-backend/internal/http/middleware"
	"github.com/corkline/wa-sales-backend/internal/secure"
	"github.com/corkline/wa-sales-backend/internal/services"
	"github.com/corkline/wa-sales-backend/internal/session"
)

// Intake accepts one inbound customer message. Implemented by
// services.IntakeService.
type Intake interface {
	Handle(ctx context.Context, in services.Inbound) (string, error)
}

// HealthReporter exposes provider and cache health. Implemented by
// ai.Manager.
type HealthReporter interface {
	Health() (map[string]ai.ProviderStats, int)
}

// MediaCache exposes the media-handle cache occupancy. Implemented by
// wa.Deliverer.
type MediaCache interface {
	CacheLen() int
}

// Handlers holds the endpoint implementations and their dependencies.
type Handlers struct {
	Intake   Intake
	DB       *gorm.DB
	AI       HealthReporter
	Sessions *session.Store
	Catalog  *catalog.Index
	Media    MediaCache
	MsgCodec *secure.Codec

	// VerifyToken answers the webhook subscription handshake.
	VerifyToken string
	// CatalogPath is re-read on admin catalog reload.
	CatalogPath string
}

// New wires the handler set. Media may be nil when delivery is disabled.
func New(intake Intake, db *gorm.DB, codec *secure.Codec, reporter HealthReporter, sessions *session.Store, cat *catalog.Index, verifyToken, catalogPath string) *Handlers {
	return &Handlers{
		Intake:      intake,
		DB:          db,
		MsgCodec:    codec,
		AI:          reporter,
		Sessions:    sessions,
		Catalog:     cat,
		VerifyToken: verifyToken,
		CatalogPath: catalogPath,
	}
}

// Webhook envelope, trimmed to the fields the bot consumes.
type webhookEnvelope struct {
	Object string         `json:"object"`
	Entry  []webhookEntry `json:"entry"`
}

type webhookEntry struct {
	ID      string          `json:"id"`
	Changes []webhookChange `json:"changes"`
}

type webhookChange struct {
	Field string       `json:"field"`
	Value webhookValue `json:"value"`
}

type webhookValue struct {
	MessagingProduct string           `json:"messaging_product"`
	Messages         []webhookMessage `json:"messages"`
}

type webhookMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image *struct {
		ID      string `json:"id"`
		Caption string `json:"caption"`
	} `json:"image"`
}

// VerifyWebhook answers the GET subscription handshake: echo hub.challenge
// when the mode is subscribe and the verify token matches, 403 otherwise.
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.VerifyToken && challenge != "" {
		c.String(http.StatusOK, challenge)
		return
	}
	fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
}

// ReceiveWebhook ingests a POST delivery. The response is always 200: the
// provider retries non-200s and eventually disables the endpoint, and a
// malformed or unhandled payload will not improve on redelivery. Signature
// verification has already run in middleware.
func (h *Handlers) ReceiveWebhook(c *gin.Context) {
	var env webhookEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("undecodable webhook payload")
		ok(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	handled := 0
	for _, entry := range env.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				in := services.Inbound{
					MessageID:  m.ID,
					From:       m.From,
					Type:       m.Type,
					Text:       messageText(m),
					ReceivedAt: messageTime(m.Timestamp),
				}
				disp, err := h.Intake.Handle(c.Request.Context(), in)
				if err != nil {
					middleware.LoggerFrom(c).Warn().
						Err(err).
						Str("disposition", disp).
						Str("type", m.Type).
						Msg("inbound message not accepted")
					continue
				}
				handled++
			}
		}
	}

	ok(c, http.StatusOK, gin.H{"status": "received", "handled": handled})
}

func messageText(m webhookMessage) string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Image != nil:
		return m.Image.Caption
	default:
		return ""
	}
}

// messageTime parses the provider's epoch-seconds timestamp, falling back to
// now for anything unparseable.
func messageTime(ts string) time.Time {
	if sec, err := strconv.ParseInt(ts, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
