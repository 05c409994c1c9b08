package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// HTTPEmitter posts events to an audit service after storing them.
type HTTPEmitter struct {
	endpoint string
	client   *http.Client
	stored   *StoreEmitter

	retries int
	delay   time.Duration
}

// NewHTTPEmitter creates an emitter posting to endpoint.
func NewHTTPEmitter(endpoint string, stored *StoreEmitter) *HTTPEmitter {
	return &HTTPEmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		stored:   stored,
		retries:  3,
		delay:    time.Second,
	}
}

// Emit stores the event, posts it, and moves the chain head only once the
// endpoint has accepted it.
func (e *HTTPEmitter) Emit(ctx context.Context, evt *Event) error {
	if err := e.stored.prepare(ctx, evt); err != nil {
		return err
	}

	// The stored copy is kept even if the POST fails.
	if err := e.stored.save(ctx, evt); err != nil {
		log.Printf("[audit] warning: backup failed: %v", err)
	}

	if err := e.postWithRetry(ctx, evt); err != nil {
		return fmt.Errorf("audit emit failed: %w", err)
	}
	return e.stored.chain.SetHead(ctx, evt)
}

func (e *HTTPEmitter) postWithRetry(ctx context.Context, evt *Event) error {
	var lastErr error
	delay := e.delay

	for attempt := 1; attempt <= e.retries; attempt++ {
		err := e.post(ctx, evt)
		if err == nil {
			return nil
		}

		lastErr = err
		if attempt < e.retries {
			log.Printf("[audit] attempt %d/%d failed: %v, retrying in %v", attempt, e.retries, err, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", e.retries, lastErr)
}

func (e *HTTPEmitter) post(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
}

// Close releases resources.
func (e *HTTPEmitter) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
