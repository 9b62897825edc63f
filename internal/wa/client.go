package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Client talks to the WhatsApp Cloud (Graph) API for one phone number ID.
// Every outbound call passes through the shared throttle first.
type Client struct {
	baseURL       string
	version       string
	phoneNumberID string
	token         string
	hc            *http.Client
	throttle      *Throttle
	log           zerolog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	BaseURL       string // default https://graph.facebook.com
	Version       string // default v21.0
	PhoneNumberID string
	Token         string
	HTTPClient    *http.Client
	Throttle      *Throttle // nil disables throttling
	Logger        zerolog.Logger
}

// NewClient builds a Client.
func NewClient(opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://graph.facebook.com"
	}
	if opts.Version == "" {
		opts.Version = "v21.0"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		version:       opts.Version,
		phoneNumberID: opts.PhoneNumberID,
		token:         opts.Token,
		hc:            opts.HTTPClient,
		throttle:      opts.Throttle,
		log:           opts.Logger,
	}
}

func (c *Client) endpoint(resource string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.baseURL, c.version, c.phoneNumberID, resource)
}

// graphError is the error envelope Graph returns on non-2xx responses.
type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]string{"body": body},
	}
	return c.sendMessage(ctx, to, payload)
}

// SendImageByID sends an image by previously uploaded media handle.
func (c *Client) SendImageByID(ctx context.Context, to, mediaID, caption string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             map[string]string{"id": mediaID, "caption": caption},
	}
	return c.sendMessage(ctx, to, payload)
}

// SendImageByLink sends an image by direct external link.
func (c *Client) SendImageByLink(ctx context.Context, to, link, caption string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "image",
		"image":             map[string]string{"link": link, "caption": caption},
	}
	return c.sendMessage(ctx, to, payload)
}

// SendDocument sends a document (catalog PDF) by link.
func (c *Client) SendDocument(ctx context.Context, to, link, filename, caption string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "document",
		"document": map[string]string{
			"link":     link,
			"filename": filename,
			"caption":  caption,
		},
	}
	return c.sendMessage(ctx, to, payload)
}

func (c *Client) sendMessage(ctx context.Context, to string, payload map[string]any) error {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("messages"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := decodeGraphError(resp.Body)
		c.log.Warn().
			Int("status", resp.StatusCode).
			Str("to", to).
			Str("graph_error", ge).
			Msg("message send rejected")
		return fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, ge)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return nil
}

// UploadMedia pushes image bytes into the channel media store and returns the
// media handle.
func (c *Client) UploadMedia(ctx context.Context, data []byte, contentType string) (string, error) {
	if c.throttle != nil {
		if err := c.throttle.Wait(ctx); err != nil {
			return "", err
		}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "product.jpg")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", contentType); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("media"), &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		ge := decodeGraphError(resp.Body)
		return "", fmt.Errorf("%w: status %d: %s", ErrUploadFailed, resp.StatusCode, ge)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decoding response: %v", ErrUploadFailed, err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("%w: empty media id", ErrUploadFailed)
	}
	return out.ID, nil
}

func decodeGraphError(r io.Reader) string {
	var ge graphError
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&ge); err != nil || ge.Error.Message == "" {
		return "unknown"
	}
	return fmt.Sprintf("%s (%s, code %d)", ge.Error.Message, ge.Error.Type, ge.Error.Code)
}
