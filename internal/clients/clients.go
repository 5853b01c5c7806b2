// Package clients holds the HTTP clients for the external model
// collaborators: vision extraction, clinical reasoning and conversational
// turns. Collaborator responses are untrusted input and are validated
// against the diff schema at this boundary; invalid shapes surface as the
// matching taxonomy error, never as partially-typed state.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// VisionReading is the structured output of the vision collaborator for one
// scanned card.
type VisionReading struct {
	Fields     map[string]string `json:"fields"`
	Confidence types.Confidence  `json:"confidence"`
	RawText    string            `json:"raw_text"`
}

// VisionClient reads a scanned paper card into structured fields with
// per-field confidence.
type VisionClient interface {
	Extract(ctx context.Context, imagePath string) (*VisionReading, error)
}

// ReasoningResult is a proposed diff with revised per-field confidence.
type ReasoningResult struct {
	Diff       types.Diff       `json:"diff"`
	Confidence types.Confidence `json:"confidence"`
	Rationale  string           `json:"rationale"`
}

// ReasoningClient turns a structured reading plus patient context into a
// proposed diff.
type ReasoningClient interface {
	Reason(ctx context.Context, reading *VisionReading, patient *types.Patient) (*ReasoningResult, error)
}

// TurnResult is one conversational exchange's output.
type TurnResult struct {
	AssistantMessage string     `json:"assistant_message"`
	SummaryLines     []string   `json:"summary_lines"`
	Diff             types.Diff `json:"diff"`
}

// ConversationClient processes one dictation turn with full prior-turn
// context.
type ConversationClient interface {
	Turn(ctx context.Context, transcript string, patient *types.Patient, priorTurns []types.Turn) (*TurnResult, error)
}

// httpClient is the shared JSON-over-HTTP plumbing for all collaborators.
type httpClient struct {
	baseURL string
	client  *http.Client
	logger  *logger.Logger
}

func newHTTPClient(baseURL string, timeout time.Duration, log *logger.Logger) httpClient {
	return httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  log,
	}
}

// postJSON posts the request payload and decodes the response into out. The
// caller wraps any returned error in its taxonomy type.
func (c httpClient) postJSON(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, snippet)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
