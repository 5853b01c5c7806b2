package clients

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"time"

	"github.com/snanayakkara/operator-sub003/pkg/logger"
	"github.com/snanayakkara/operator-sub003/pkg/types"
)

// HTTPVisionClient calls the vision extraction service.
type HTTPVisionClient struct {
	httpClient
}

// NewVisionClient creates a vision extraction client.
func NewVisionClient(baseURL string, timeout time.Duration, log *logger.Logger) *HTTPVisionClient {
	return &HTTPVisionClient{httpClient: newHTTPClient(baseURL, timeout, log)}
}

type visionRequest struct {
	Filename    string `json:"filename"`
	ImageBase64 string `json:"image_base64"`
}

// Extract reads a scanned card image into structured fields. Unreadable
// input fails with an extraction error; the caller treats it as per-card.
func (c *HTTPVisionClient) Extract(ctx context.Context, imagePath string) (*VisionReading, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, types.NewExtractionError("failed to read card image", err)
	}

	req := visionRequest{
		Filename:    filepath.Base(imagePath),
		ImageBase64: base64.StdEncoding.EncodeToString(image),
	}

	var reading VisionReading
	if err := c.postJSON(ctx, "/v1/extract", req, &reading); err != nil {
		return nil, types.NewExtractionError("vision extraction failed", err)
	}

	if err := validateConfidence(reading.Confidence); err != nil {
		return nil, types.NewExtractionError("vision extraction returned invalid confidence", err)
	}

	c.logger.WithField("card", req.Filename).WithField("fields", len(reading.Fields)).
		Debug("Card extracted")
	return &reading, nil
}
