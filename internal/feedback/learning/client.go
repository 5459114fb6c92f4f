// Package learning forwards recorded corrections to the external learning
// system and reads back its verdict.
package learning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dhruv/internal/feedback/models"
	review "dhruv/internal/review/models"
)

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Client

// Submission is the single forwarding call for one correction. The wire id
// is the record id; the training example travels as example_id.
type Submission struct {
	ItemID          string               `json:"id"`
	ExampleID       string               `json:"example_id"`
	OriginalText    string               `json:"original_text"`
	OriginalPayload review.Payload       `json:"original_payload"`
	Correction      []review.FieldChange `json:"correction"`
}

// Verdict is the learning system's answer.
type Verdict struct {
	Decision models.Decision `json:"decision"`
	Reason   string          `json:"reason,omitempty"`
}

// Client submits a correction exactly once per call. Implementations return
// a *ForwardingError when the learning system could not be reached or did
// not answer with a usable verdict.
type Client interface {
	Submit(ctx context.Context, s Submission) (Verdict, error)
}

// ForwardingError reports a failed forward.
type ForwardingError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ForwardingError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("learning system answered %d: %s", e.StatusCode, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("learning system unreachable: %s: %v", e.Message, e.Err)
	}
	return "learning system: " + e.Message
}

func (e *ForwardingError) Unwrap() error { return e.Err }

// HTTPClient posts submissions as JSON to a fixed endpoint.
type HTTPClient struct {
	endpoint string
	client   *http.Client
}

func NewHTTPClient(endpoint string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Submit(ctx context.Context, s Submission) (Verdict, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return Verdict{}, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, &ForwardingError{Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, &ForwardingError{Message: "post correction", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Verdict{}, &ForwardingError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(snippet))}
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, &ForwardingError{Message: "decode verdict", Err: err}
	}
	v.Decision = models.Decision(strings.ToUpper(strings.TrimSpace(string(v.Decision))))
	if !v.Decision.IsRemote() {
		return Verdict{}, &ForwardingError{Message: fmt.Sprintf("unknown decision %q", v.Decision)}
	}
	return v, nil
}

// NopClient stands in when no learning system is configured. Every
// correction is answered with NEEDS_MORE_EXAMPLES.
type NopClient struct{}

func (NopClient) Submit(context.Context, Submission) (Verdict, error) {
	return Verdict{Decision: models.DecisionNeedsMoreExamples, Reason: "no learning system configured"}, nil
}
