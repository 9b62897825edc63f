package services

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/corkline/wa-sales-backend/internal/domain"
	"github.com/corkline/wa-sales-backend/internal/session"
)

var intakeMessages = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "intake_messages_total",
		Help: "Inbound webhook messages by disposition.",
	},
	[]string{"disposition"},
)

func init() {
	prometheus.MustRegister(intakeMessages)
}

// Dispositions returned by IntakeService.Handle.
const (
	DispositionEnqueued  = "enqueued"  // job placed on the durable queue
	DispositionProcessed = "processed" // queue unavailable, replied inline
	DispositionDuplicate = "duplicate" // message id seen recently
	DispositionThrottled = "throttled" // sender over the per-sender gap
	DispositionRejected  = "rejected"  // failed shape validation
)

// Inbound is one customer message extracted from a webhook delivery.
type Inbound struct {
	MessageID  string
	From       string
	Type       string
	Text       string
	ReceivedAt time.Time
}

// Enqueuer places a job on the durable queue. Implemented by queue.Pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind, payload string, maxAttempts int) (*domain.Job, error)
}

// Processor runs a job inline. Implemented by ReplyService; used when the
// queue cannot accept work.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) error
}

// IntakeService validates inbound messages, absorbs duplicates and
// over-eager senders, and hands the rest to the queue. A queue failure
// degrades to inline processing so the customer still gets an answer.
type IntakeService struct {
	Sessions *session.Store
	Queue    Enqueuer
	Direct   Processor

	// MaxBodyLen caps the text body after markup stripping.
	MaxBodyLen int
	// MaxAttempts is the retry budget given to each reply job.
	MaxAttempts int
	Logger      zerolog.Logger
}

// NewIntakeService constructs an IntakeService with the usual limits.
func NewIntakeService(sessions *session.Store, q Enqueuer, direct Processor, logger zerolog.Logger) *IntakeService {
	return &IntakeService{
		Sessions:    sessions,
		Queue:       q,
		Direct:      direct,
		MaxBodyLen:  4096,
		MaxAttempts: 3,
		Logger:      logger,
	}
}

// Handle runs one inbound message through validation, dedup, and the
// per-sender throttle, then enqueues a reply job. The returned disposition
// says what happened; err is non-nil only for rejections.
func (s *IntakeService) Handle(ctx context.Context, in Inbound) (string, error) {
	if err := s.validate(&in); err != nil {
		intakeMessages.WithLabelValues(DispositionRejected).Inc()
		s.Logger.Warn().
			Err(err).
			Str("message_id", in.MessageID).
			Str("type", in.Type).
			Msg("inbound message rejected")
		return DispositionRejected, err
	}

	if s.Sessions.Seen(in.MessageID) {
		intakeMessages.WithLabelValues(DispositionDuplicate).Inc()
		return DispositionDuplicate, nil
	}
	if !s.Sessions.AllowSender(in.From) {
		// Dropped silently: answering a rapid-fire burst reads as spam
		// to the customer and burns provider quota.
		intakeMessages.WithLabelValues(DispositionThrottled).Inc()
		s.Logger.Debug().Str("sender", in.From).Msg("sender throttled")
		return DispositionThrottled, nil
	}

	payload, err := ReplyJob{
		MessageID:  in.MessageID,
		Sender:     in.From,
		Text:       in.Text,
		Type:       in.Type,
		ReceivedAt: in.ReceivedAt,
	}.Encode()
	if err != nil {
		intakeMessages.WithLabelValues(DispositionRejected).Inc()
		return DispositionRejected, err
	}

	if s.Queue != nil {
		if _, err := s.Queue.Enqueue(ctx, JobKindReply, payload, s.MaxAttempts); err == nil {
			intakeMessages.WithLabelValues(DispositionEnqueued).Inc()
			return DispositionEnqueued, nil
		} else {
			s.Logger.Error().Err(err).Msg("enqueue failed, processing inline")
		}
	}

	job := &domain.Job{Kind: JobKindReply, Payload: payload, MaxAttempts: 1}
	if err := s.Direct.Process(ctx, job); err != nil {
		s.Logger.Error().Err(err).Str("message_id", in.MessageID).Msg("inline processing failed")
	}
	intakeMessages.WithLabelValues(DispositionProcessed).Inc()
	return DispositionProcessed, nil
}

func (s *IntakeService) validate(in *Inbound) error {
	if !validSender(in.From) {
		return ErrBadSender
	}
	switch in.Type {
	case "text", "image":
	default:
		return ErrUnsupportedType
	}
	in.Text = strings.TrimSpace(stripMarkup(in.Text))
	if in.Type == "text" && in.Text == "" {
		return ErrEmptyBody
	}
	max := s.MaxBodyLen
	if max <= 0 {
		max = 4096
	}
	if len(in.Text) > max {
		return ErrTooLong
	}
	return nil
}

// validSender accepts E.164-style ids: 10 to 15 digits, optional leading +.
func validSender(id string) bool {
	id = strings.TrimPrefix(id, "+")
	if len(id) < 10 || len(id) > 15 {
		return false
	}
	for _, r := range id {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// stripMarkup removes angle-bracket tag sequences so pasted HTML cannot
// inflate the body past the ceiling or leak into provider prompts.
func stripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	depth := 0
	for _, r := range s {
		switch {
		case r == '<':
			depth++
		case r == '>' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
