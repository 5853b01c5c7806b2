package clients

import (
	"context"
	"time"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// HTTPConversationClient calls the conversational turn service.
type HTTPConversationClient struct {
	httpClient
}

// NewConversationClient creates a conversational turn client.
func NewConversationClient(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPConversationClient {
	return &HTTPConversationClient{httpClient: newHTTPClient(baseURL, timeout, log)}
}

type turnRequest struct {
	Transcript string         `json:"transcript"`
	Patient    *types.Patient `json:"patient"`
	PriorTurns []types.Turn   `json:"prior_turns"`
}

// Turn sends the new transcript plus full turn history to the conversational
// collaborator. Failures surface as turn errors so the session stays active
// and the caller can retry the same turn.
func (c *HTTPConversationClient) Turn(ctx context.Context, transcript string, patient *types.Patient, priorTurns []types.Turn) (*TurnResult, error) {
	req := turnRequest{Transcript: transcript, Patient: patient, PriorTurns: priorTurns}

	var result TurnResult
	if err := c.postJSON(ctx, "/v1/turn", req, &result); err != nil {
		return nil, types.NewTurnError("conversational turn failed", err)
	}

	if err := ValidateDiff(result.Diff); err != nil {
		return nil, types.NewTurnError("conversational turn returned an invalid diff", err)
	}

	c.logger.WithPatientID(patient.ID).Debug("Turn response received")
	return &result, nil
}
