// Package qr renders pairing tokens as QR codes, as PNG for the HTTP
// endpoint and as block characters for terminals.
package qr

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nextlevelbuilder/cliprelay/internal/config"
)

const defaultSize = 256

// Encoder turns a token into the QR payload a secondary scans.
type Encoder struct {
	baseURL string
	size    int
}

// NewEncoder creates an encoder from the qr config section.
func NewEncoder(cfg config.QRConfig) *Encoder {
	size := cfg.Size
	if size <= 0 {
		size = defaultSize
	}
	return &Encoder{baseURL: cfg.BaseURL, size: size}
}

// Content is the text encoded in the QR code.
func (e *Encoder) Content(token string) string {
	return e.baseURL + token
}

// PNG renders the token as a square PNG.
func (e *Encoder) PNG(token string) ([]byte, error) {
	png, err := qrcode.Encode(e.Content(token), qrcode.Medium, e.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Terminal renders the token with half-block characters, two modules per
// line, for printing to a terminal.
func (e *Encoder) Terminal(token string) (string, error) {
	q, err := qrcode.New(e.Content(token), qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("encode qr: %w", err)
	}
	return q.ToSmallString(false), nil
}

// TokenFromContent reverses Content: it strips the base URL if present.
func (e *Encoder) TokenFromContent(content string) string {
	content = strings.TrimSpace(content)
	if e.baseURL != "" {
		content = strings.TrimPrefix(content, e.baseURL)
	}
	return content
}

// Handler serves GET /qr/{token}. live reports whether token is a QR token
// that can still be redeemed; anything else is a 404 so the endpoint cannot
// be used to probe for manual codes or render arbitrary content.
func Handler(enc *Encoder, live func(token string) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.PathValue("token")
		if token == "" || !live(token) {
			http.NotFound(w, r)
			return
		}
		png, err := enc.PNG(token)
		if err != nil {
			slog.Error("render qr failed", "error", err)
			http.Error(w, "render failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(png)
	})
}
