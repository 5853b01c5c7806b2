package clients

import (
	"context"
	"time"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// HTTPReasoningClient calls the clinical reasoning service.
type HTTPReasoningClient struct {
	httpClient
}

// NewReasoningClient creates a clinical reasoning client.
func NewReasoningClient(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPReasoningClient {
	return &HTTPReasoningClient{httpClient: newHTTPClient(baseURL, timeout, log)}
}

type reasoningRequest struct {
	Reading *VisionReading `json:"reading"`
	Patient *types.Patient `json:"patient"`
}

// Reason turns a structured card reading plus the patient's current state
// into a proposed diff with revised per-field confidence. Malformed model
// output fails with a reasoning error.
func (c *HTTPReasoningClient) Reason(ctx context.Context, reading *VisionReading, patient *types.Patient) (*ReasoningResult, error) {
	req := reasoningRequest{Reading: reading, Patient: patient}

	var result ReasoningResult
	if err := c.postJSON(ctx, "/v1/reason", req, &result); err != nil {
		return nil, types.NewReasoningError("clinical reasoning failed", err)
	}

	if err := ValidateDiff(result.Diff); err != nil {
		return nil, types.NewReasoningError("clinical reasoning returned an invalid diff", err)
	}
	if err := validateConfidence(result.Confidence); err != nil {
		return nil, types.NewReasoningError("clinical reasoning returned invalid confidence", err)
	}

	c.logger.WithPatientID(patient.ID).Debug("Reasoning proposal received")
	return &result, nil
}
