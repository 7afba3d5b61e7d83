// Package engine abstracts the image transform backend so workers stay
// independent of how pixels are actually produced.
package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/luminapix/backend/internal/models"
)

// ProgressFunc reports units finished out of total while a transform runs.
type ProgressFunc func(done, total int)

// Engine runs one transform over a set of input files and returns the
// produced images. Implementations must honor ctx cancellation.
type Engine interface {
	Transform(ctx context.Context, jobID string, op models.Operation, params models.JobParams, inputPaths []string, progress ProgressFunc) ([][]byte, error)
}

// HTTPEngine calls a remote transform service, one request per input
// image, reporting progress after each.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type transformRequest struct {
	JobID     string           `json:"job_id"`
	Operation string           `json:"operation"`
	Params    models.JobParams `json:"params"`
	Image     string           `json:"image"`
}

type transformResponse struct {
	Image string `json:"image"`
}

func (e *HTTPEngine) Transform(ctx context.Context, jobID string, op models.Operation, params models.JobParams, inputPaths []string, progress ProgressFunc) ([][]byte, error) {
	outputs := make([][]byte, 0, len(inputPaths))

	for i, path := range inputPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", path, err)
		}

		out, err := e.transformOne(ctx, jobID, op, params, data)
		if err != nil {
			return nil, fmt.Errorf("transforming input %d: %w", i, err)
		}
		outputs = append(outputs, out)

		if progress != nil {
			progress(i+1, len(inputPaths))
		}
	}
	return outputs, nil
}

func (e *HTTPEngine) transformOne(ctx context.Context, jobID string, op models.Operation, params models.JobParams, image []byte) ([]byte, error) {
	body, err := json.Marshal(transformRequest{
		JobID:     jobID,
		Operation: string(op),
		Params:    params,
		Image:     base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/transform", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transform service returned status %d", resp.StatusCode)
	}

	var tr transformResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return nil, fmt.Errorf("decoding transform response: %w", err)
	}
	return base64.StdEncoding.DecodeString(tr.Image)
}
