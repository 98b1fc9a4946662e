package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook posts events as JSON to a URL.
type Webhook struct {
	url  string
	http *resty.Client
}

// NewWebhook creates a webhook notifier. Requests are retried on 429 and 5xx.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:  url,
		http: newClient(timeout),
	}
}

// Notify implements Notifier.
func (w *Webhook) Notify(ctx context.Context, e Event) error {
	resp, err := w.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Event-Type", e.Type).
		SetHeader("X-Event-ID", e.ID).
		SetBody(e).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", e.Type, err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("webhook %s: status %d", e.Type, resp.StatusCode())
	}
	return nil
}

// SearchIndex asks a search service to reindex the products of an import.
type SearchIndex struct {
	url  string
	http *resty.Client
}

// NewSearchIndex creates an indexer posting to url.
func NewSearchIndex(url string, timeout time.Duration) *SearchIndex {
	return &SearchIndex{
		url:  strings.TrimRight(url, "/"),
		http: newClient(timeout),
	}
}

type refreshRequest struct {
	Source   string `json:"source"`
	ImportID string `json:"import_id"`
}

// Refresh implements Indexer.
func (s *SearchIndex) Refresh(ctx context.Context, e Event) error {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshRequest{Source: "catalog_import", ImportID: e.SessionID}).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("search refresh: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("search refresh: status %d", resp.StatusCode())
	}
	return nil
}

func newClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return resty.New().
		SetHeader("User-Agent", "catalogimport").
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r.StatusCode() == 429 || (r.StatusCode() >= 500 && r.StatusCode() <= 504)
		})
}
