// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file verifies webhook payload signatures. The channel provider signs
// every POST body with HMAC-SHA256 over the exact raw bytes and sends the
// digest in X-Hub-Signature-256, so the check must run before any body
// parsing can alter them.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// signatureHeader carries "sha256=<hex digest>" on signed deliveries.
const signatureHeader = "X-Hub-Signature-256"

// VerifySignature returns a middleware that authenticates webhook bodies
// against appSecret. An empty secret disables verification (local runs).
// The body is restored after reading so handlers can bind it normally.
// Comparison is constant-time; failures get 401 and never reach intake.
func VerifySignature(appSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if appSecret == "" {
			c.Next()
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "bad_request",
				"message":    "unreadable body",
			})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		header := c.GetHeader(signatureHeader)
		digest, ok := strings.CutPrefix(header, "sha256=")
		if !ok || !validSignature(appSecret, body, digest) {
			log.Warn().
				Str("request_id", RequestIDFrom(c)).
				Str("remote_ip", c.ClientIP()).
				Bool("header_present", header != "").
				Msg("webhook signature rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "unauthorized",
				"message":    "invalid signature",
			})
			return
		}
		c.Next()
	}
}

func validSignature(secret string, body []byte, hexDigest string) bool {
	want, err := hex.DecodeString(hexDigest)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}
