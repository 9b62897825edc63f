// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements AccessLogger, the structured access logger. It scrubs
// customer identifiers before anything reaches a log line: every webhook
// delivery on this service names a phone number, and admin queries may carry
// one too. Bodies are never logged.
//
// The scrubbed request-scoped logger is also stored in the Gin context (see
// LoggerFrom) so handler logs inherit the correlation ID without re-deriving
// fields.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// AccessLogOptions configures extra scrub behavior for AccessLogger.
//
// MaskHeaders lists additional header names whose values are replaced with
// "[REDACTED]" wholesale. Matching is case-insensitive and merged with the
// built-in set (Authorization, Cookie, Set-Cookie, X-Hub-Signature-256).
type AccessLogOptions struct {
	MaskHeaders []string
}

// Scrub patterns, compiled once. UUIDs are redacted before phone numbers so
// the looser phone pattern cannot eat UUID digit runs.
var (
	scrubUUID  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	scrubEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Matches E.164 and common grouped forms: "+919876543210",
	// "+1 212-555-1212", "(212) 555-1212". Loosest pattern, applied last.
	scrubPhone = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// Scrub replaces identifiers, emails, and phone numbers in s with redaction
// markers. Exported so handlers can scrub values they log themselves.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	out := scrubUUID.ReplaceAllString(s, "[REDACTED:id]")
	out = scrubEmail.ReplaceAllString(out, "[REDACTED:email]")
	out = scrubPhone.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// AccessLogger returns the access-logging middleware. It logs method, route,
// scrubbed query, status, size, and latency, attaches the request-scoped
// logger, and picks the level from the response status (info / warn on 4xx /
// error on 5xx or collected Gin errors).
func AccessLogger(opts AccessLogOptions) gin.HandlerFunc {
	maskHeaders := map[string]struct{}{
		"authorization":       {},
		"cookie":              {},
		"set-cookie":          {},
		"x-hub-signature-256": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			maskHeaders[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		rid := RequestIDFrom(c)

		l := log.With().
			Str("request_id", rid).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &l)

		safeQuery := Scrub(c.Request.URL.RawQuery)
		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := maskHeaders[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = Scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		ev := l.With().
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Int64("bytes_in", c.Request.ContentLength).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", Scrub(c.Errors.String())).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}
