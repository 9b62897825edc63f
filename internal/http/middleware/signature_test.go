package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func signatureApp(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhook", VerifySignature(secret), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})
	return r
}

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature_AcceptsValid(t *testing.T) {
	app := signatureApp("top-secret")
	body := `{"object":"whatsapp_business_account"}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
	req.Header.Set(signatureHeader, sign("top-secret", body))
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != body {
		t.Fatalf("handler saw body %q, want original restored", w.Body.String())
	}
}

func TestVerifySignature_RejectsBadDigest(t *testing.T) {
	app := signatureApp("top-secret")
	body := `{"object":"whatsapp_business_account"}`

	for _, header := range []string{
		"",
		"sha256=deadbeef",
		sign("wrong-secret", body),
		"md5=abc",
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		if header != "" {
			req.Header.Set(signatureHeader, header)
		}
		w := httptest.NewRecorder()
		app.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d, want 401", header, w.Code)
		}
	}
}

func TestVerifySignature_TamperedBodyRejected(t *testing.T) {
	app := signatureApp("top-secret")
	good := `{"n":1}`

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"n":2}`))
	req.Header.Set(signatureHeader, sign("top-secret", good))
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestVerifySignature_NoSecretSkipsCheck(t *testing.T) {
	app := signatureApp("")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	app.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when verification is disabled", w.Code)
	}
}
