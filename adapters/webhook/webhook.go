// Package snapshotwebhook announces finished snapshot downloads to the
// hosting application over HTTP.
package snapshotwebhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-cotizaciones/snapshot"
)

// Message describes an outbound webhook call.
type Message struct {
	URL     string
	Method  string
	Headers map[string]string
	Payload any
}

// Sender delivers webhook messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// HTTPSender posts JSON payloads via HTTP.
type HTTPSender struct {
	Client *http.Client
}

// Send posts the webhook payload.
func (s *HTTPSender) Send(ctx context.Context, msg Message) error {
	if s == nil {
		return snapshot.NewError(snapshot.KindInternal, "webhook sender is nil", nil)
	}
	if strings.TrimSpace(msg.URL) == "" {
		return snapshot.NewError(snapshot.KindValidation, "webhook URL is required", nil)
	}
	method := msg.Method
	if method == "" {
		method = http.MethodPost
	}

	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return snapshot.NewError(snapshot.KindValidation, "webhook payload invalid", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, msg.URL, bytes.NewReader(payload))
	if err != nil {
		return snapshot.NewError(snapshot.KindInternal, "webhook request failed", err)
	}
	for key, value := range msg.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return snapshot.NewError(snapshot.KindExternal, "webhook request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return snapshot.NewError(snapshot.KindExternal, "webhook response error: "+resp.Status, nil)
	}
	return nil
}

// Payload is the webhook event body.
type Payload struct {
	Event       string    `json:"event"`
	Filename    string    `json:"filename"`
	Correlativo string    `json:"correlativo,omitempty"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	DataURI     string    `json:"data_uri,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	SentAt      time.Time `json:"sent_at"`
}

// EventDownloaded names the event sent for each download.
const EventDownloaded = "cotizacion.snapshot.downloaded"

// Downloader is a snapshot.Downloader that posts each download to URL.
// The data URI is only included when IncludeData is set.
type Downloader struct {
	URL         string
	Headers     map[string]string
	IncludeData bool
	Sender      Sender
	Now         func() time.Time
}

// Download announces d.
func (w *Downloader) Download(ctx context.Context, d snapshot.Download) error {
	if w == nil {
		return snapshot.NewError(snapshot.KindInternal, "webhook downloader is nil", nil)
	}
	sender := w.Sender
	if sender == nil {
		sender = &HTTPSender{}
	}
	payload := Payload{
		Event:       EventDownloaded,
		Filename:    d.Filename,
		Correlativo: d.Correlativo,
		ContentType: d.ContentType,
		Size:        d.Size(),
		CreatedAt:   d.CreatedAt,
		SentAt:      w.now(),
	}
	if w.IncludeData {
		payload.DataURI = d.Href
	}
	return sender.Send(ctx, Message{
		URL:     w.URL,
		Headers: w.Headers,
		Payload: payload,
	})
}

func (w *Downloader) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}
