// Package transport carries signed payloads to external HTTP destinations.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/studioflow/backend/internal/domain/ports"
	appErrors "github.com/studioflow/backend/pkg/errors"
	"github.com/studioflow/backend/pkg/signature"
)

// maxResponseBody caps how much of a destination's response we retain for the
// delivery record.
const maxResponseBody = 4 << 10

// HTTPSender delivers signed JSON payloads via HTTP POST
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates a sender with the given per-request timeout
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSender{
		client: &http.Client{Timeout: timeout},
	}
}

// Send POSTs the payload to the destination with the signature header set.
// Network failures and 4xx/5xx responses return TransportError; the partial
// SendResult is still returned when a response was received so callers can
// record the status code.
func (s *HTTPSender) Send(ctx context.Context, destination string, payload []byte, sig string) (*ports.SendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(payload))
	if err != nil {
		return nil, appErrors.NewTransportError(destination, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, sig)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("⚠️ DELIVERY FAILED: URL=%s Error=%v", destination, err)
		return nil, appErrors.NewTransportError(destination, 0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	result := &ports.SendResult{StatusCode: resp.StatusCode, Body: string(body)}

	if resp.StatusCode >= 400 {
		log.Printf("⚠️ DELIVERY ERROR RESPONSE: URL=%s Status=%d", destination, resp.StatusCode)
		return result, appErrors.NewTransportError(destination, resp.StatusCode, nil)
	}

	log.Printf("✅ DELIVERY SUCCESS: URL=%s Status=%d", destination, resp.StatusCode)
	return result, nil
}
