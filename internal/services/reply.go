package services

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/corkline/wa-sales-backend/internal/ai"
	"github.com/corkline/wa-sales-backend/internal/domain"
	"github.com/corkline/wa-sales-backend/internal/images"
	"github.com/corkline/wa-sales-backend/internal/repo"
	"github.com/corkline/wa-sales-backend/internal/secure"
	"github.com/corkline/wa-sales-backend/internal/session"
)

var replyOutcomes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reply_pipeline_total",
		Help: "Reply pipeline runs by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(replyOutcomes)
}

// apologyText is sent when the pipeline fails in a way a retry cannot fix.
const apologyText = "Sorry, something went wrong on our side. Please send that again in a moment."

// Responder produces a reply for a customer message. Implemented by
// ai.Manager.
type Responder interface {
	Respond(ctx context.Context, req ai.Request) ai.Outcome
}

// TextSender delivers a plain text message. Implemented by wa.Client.
type TextSender interface {
	SendText(ctx context.Context, to, body string) error
}

// MediaDeliverer delivers images and catalog documents with graceful
// degradation. Implemented by wa.Deliverer.
type MediaDeliverer interface {
	Deliver(ctx context.Context, to, imageURL, caption string) (string, error)
	SendDocument(ctx context.Context, to, docURL, filename, caption string) error
}

// ReplyService runs the full pipeline for one inbound message: replay check,
// history load, AI response, text send, image resolution and delivery, and
// persistence. It is the handler behind the queue workers, so its error
// contract drives retries: a returned error means "retry me", nil means the
// message is settled (answered, replayed, or absorbed with an apology).
type ReplyService struct {
	DB       *gorm.DB
	Codec    *secure.Codec
	Sessions *session.Store
	AI       Responder
	Images   *images.Resolver
	Media    MediaDeliverer
	Texts    TextSender

	// HistoryLimit is how many prior messages feed the provider prompt.
	HistoryLimit int
	// HistoryBudget bounds the history query; past it the in-memory
	// fallback is used so a slow store cannot stall the reply.
	HistoryBudget time.Duration
	// ReceiptTTL is how long a reply receipt suppresses reprocessing.
	ReceiptTTL time.Duration

	Logger zerolog.Logger
	Now    func() time.Time
}

// NewReplyService wires a ReplyService with the usual limits.
func NewReplyService(db *gorm.DB, codec *secure.Codec, sessions *session.Store, responder Responder, resolver *images.Resolver, media MediaDeliverer, texts TextSender, logger zerolog.Logger) *ReplyService {
	return &ReplyService{
		DB:            db,
		Codec:         codec,
		Sessions:      sessions,
		AI:            responder,
		Images:        resolver,
		Media:         media,
		Texts:         texts,
		HistoryLimit:  10,
		HistoryBudget: 2 * time.Second,
		ReceiptTTL:    48 * time.Hour,
		Logger:        logger,
		Now:           time.Now,
	}
}

// Process answers one queued inbound message. See the type doc for the
// error contract.
func (s *ReplyService) Process(ctx context.Context, job *domain.Job) (err error) {
	p, derr := DecodeReplyJob(job.Payload)
	if derr != nil {
		s.Logger.Error().Str("job_id", job.ID).Msg("dropping job with undecodable payload")
		replyOutcomes.WithLabelValues("bad_payload").Inc()
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error().
				Interface("panic", r).
				Str("message_id", p.MessageID).
				Str("sender", p.Sender).
				Msg("reply pipeline panicked, sending apology")
			s.apologize(p)
			replyOutcomes.WithLabelValues("panicked").Inc()
			err = nil
		}
	}()

	// A nil DB means the process came up without a store. Everything below
	// degrades to the in-memory session state.
	var conv *domain.Conversation
	if s.DB != nil {
		replied, rerr := repo.WasReplied(ctx, s.DB, p.MessageID, s.Now())
		if rerr != nil {
			s.Logger.Warn().Err(rerr).Msg("receipt lookup failed, proceeding")
		}
		if replied {
			replyOutcomes.WithLabelValues("replayed").Inc()
			return nil
		}

		var cerr error
		conv, cerr = repo.GetOrCreateConversation(ctx, s.DB, p.Sender)
		if cerr != nil {
			s.Logger.Error().Err(cerr).Str("sender", p.Sender).Msg("conversation unavailable, replying from memory")
			conv = nil
		}
	}

	history, customerTexts := s.loadHistory(ctx, conv, p.Sender)

	out := s.AI.Respond(ctx, ai.Request{Sender: p.Sender, Text: p.Text, History: history})
	if serr := s.Texts.SendText(ctx, p.Sender, out.Text); serr != nil {
		replyOutcomes.WithLabelValues("send_failed").Inc()
		return fmt.Errorf("send reply to %s: %w", p.Sender, serr)
	}

	if p.Type == "text" && s.Images != nil {
		s.attachMedia(ctx, p.Sender, p.Text, customerTexts)
	}

	s.persist(ctx, conv, p, out)

	if s.DB != nil {
		convID := ""
		if conv != nil {
			convID = conv.ID
		}
		if merr := repo.MarkReplied(ctx, s.DB, p.MessageID, convID, s.ReceiptTTL); merr != nil {
			s.Logger.Warn().Err(merr).Str("message_id", p.MessageID).Msg("receipt write failed")
		}
	}
	replyOutcomes.WithLabelValues("answered").Inc()
	return nil
}

// loadHistory returns provider-ready turns plus the customer-side texts the
// image resolver needs for pronoun resolution. The store is preferred; on
// error or timeout the in-memory snippets stand in.
func (s *ReplyService) loadHistory(ctx context.Context, conv *domain.Conversation, sender string) ([]ai.Turn, []string) {
	if conv != nil {
		hctx, cancel := context.WithTimeout(ctx, s.historyBudget())
		defer cancel()
		msgs, err := repo.ListRecentMessages(hctx, s.DB, s.Codec, conv.ID, s.historyLimit())
		if err == nil {
			turns := make([]ai.Turn, 0, len(msgs))
			var customer []string
			for _, m := range msgs {
				turns = append(turns, ai.Turn{Role: toAIRole(m.Role), Content: m.Content})
				if m.Role == domain.RoleCustomer {
					customer = append(customer, m.Content)
				}
			}
			return turns, customer
		}
		s.Logger.Warn().Err(err).Str("conversation_id", conv.ID).Msg("history load failed, using memory")
	}

	snips := s.Sessions.Recent(sender, s.historyLimit())
	turns := make([]ai.Turn, 0, len(snips))
	var customer []string
	for _, sn := range snips {
		turns = append(turns, ai.Turn{Role: toAIRole(sn.Role), Content: sn.Text})
		if sn.Role == domain.RoleCustomer {
			customer = append(customer, sn.Text)
		}
	}
	return turns, customer
}

// attachMedia resolves and delivers the turn's media. Delivery problems are
// logged and swallowed: the customer already has the text answer.
func (s *ReplyService) attachMedia(ctx context.Context, sender, text string, customerTexts []string) {
	dec := s.Images.Resolve(sender, text, customerTexts)
	if dec.Document != "" {
		if err := s.Media.SendDocument(ctx, sender, dec.Document, docFilename(dec.Document), "Here is our catalogue."); err != nil {
			s.Logger.Warn().Err(err).Str("doc", dec.Document).Msg("catalog document delivery failed")
		}
		return
	}
	for _, att := range dec.Images {
		tier, err := s.Media.Deliver(ctx, sender, att.URL, att.Caption)
		if err != nil {
			s.Logger.Warn().Err(err).Str("url", att.URL).Msg("image delivery failed")
			continue
		}
		s.Sessions.MarkImageSent(sender, att.URL)
		s.Logger.Debug().Str("url", att.URL).Str("tier", tier).Msg("image delivered")
	}
}

// persist writes both sides of the exchange. Store errors degrade to the
// in-memory history only.
func (s *ReplyService) persist(ctx context.Context, conv *domain.Conversation, p ReplyJob, out ai.Outcome) {
	s.Sessions.Remember(p.Sender, domain.RoleCustomer, p.Text)
	s.Sessions.Remember(p.Sender, domain.RoleAgent, out.Text)
	if conv == nil {
		return
	}
	if _, err := repo.AppendMessage(ctx, s.DB, s.Codec, conv.ID, domain.RoleCustomer, p.Text, "", domain.DeliverySent); err != nil {
		s.Logger.Warn().Err(err).Msg("customer message persist failed")
	}
	if _, err := repo.AppendMessage(ctx, s.DB, s.Codec, conv.ID, domain.RoleAgent, out.Text, out.Provider, domain.DeliverySent); err != nil {
		s.Logger.Warn().Err(err).Msg("agent message persist failed")
	}
}

// apologize is the terminal path after a panic. Best effort: transport
// errors here are logged and dropped, and a receipt is written so a queue
// retry does not apologize twice.
func (s *ReplyService) apologize(p ReplyJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Texts.SendText(ctx, p.Sender, apologyText); err != nil {
		s.Logger.Error().Err(err).Str("sender", p.Sender).Msg("apology send failed")
		return
	}
	if s.DB == nil {
		return
	}
	if err := repo.MarkReplied(ctx, s.DB, p.MessageID, "", s.ReceiptTTL); err != nil {
		s.Logger.Warn().Err(err).Msg("apology receipt write failed")
	}
}

func (s *ReplyService) historyLimit() int {
	if s.HistoryLimit > 0 {
		return s.HistoryLimit
	}
	return 10
}

func (s *ReplyService) historyBudget() time.Duration {
	if s.HistoryBudget > 0 {
		return s.HistoryBudget
	}
	return 2 * time.Second
}

func toAIRole(role string) string {
	if role == domain.RoleAgent {
		return ai.RoleAssistant
	}
	return ai.RoleUser
}

// docFilename derives a user-facing filename from a document locator.
func docFilename(locator string) string {
	name := path.Base(strings.TrimSuffix(locator, "/"))
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		return "catalogue.pdf"
	}
	return name
}
