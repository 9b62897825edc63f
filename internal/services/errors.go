// Package services holds the business logic between the webhook surface and
// the adapters: intake validation and dedup, and the full reply pipeline run
// by queue workers. Handlers translate the error values below into HTTP
// results; workers translate them into retry decisions.
package services

import "errors"

var (
	// ErrBadSender is returned when the sender id is not a plausible
	// phone number (10 to 15 digits).
	ErrBadSender = errors.New("invalid sender id")

	// ErrUnsupportedType is returned for webhook message types the bot
	// does not handle.
	ErrUnsupportedType = errors.New("unsupported message type")

	// ErrEmptyBody is returned when a text message carries no content
	// after normalization.
	ErrEmptyBody = errors.New("message body is empty")

	// ErrTooLong is returned when a message body exceeds the configured
	// length ceiling.
	ErrTooLong = errors.New("message body too long")

	// ErrBadPayload is returned when a queued job carries a payload that
	// does not decode. Such jobs are not retried.
	ErrBadPayload = errors.New("undecodable job payload")
)
