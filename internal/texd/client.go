// Package texd turns document source into rendered artifacts, either through
// an external compile daemon or by running the toolchain locally. The
// collaboration core never compiles anything itself; it only schedules,
// dedupes, and tracks status.
package texd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"coauthor/internal/models"
)

type Client struct {
	BaseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type compileResponse struct {
	Status       string `json:"status"`
	ArtifactPath string `json:"artifact_path"`
	Log          string `json:"log"`
}

// Compile submits one job and blocks until the daemon answers. A non-2xx
// answer is a transport/daemon error; a "failed" status inside a 200 answer
// is a source error and is reported verbatim, never retried.
func (c *Client) Compile(ctx context.Context, req models.CompileRequest) (models.CompileResult, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return models.CompileResult{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/compile", bytes.NewBuffer(reqBody))
	if err != nil {
		return models.CompileResult{}, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return models.CompileResult{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return models.CompileResult{}, fmt.Errorf("compile daemon returned status %d: %s", resp.StatusCode, string(body))
	}

	var compResp compileResponse
	if err := json.NewDecoder(resp.Body).Decode(&compResp); err != nil {
		return models.CompileResult{}, fmt.Errorf("failed to decode response: %w", err)
	}

	status := models.CompileCompleted
	if compResp.Status != "completed" {
		status = models.CompileFailed
	}

	return models.CompileResult{
		Status:       status,
		ArtifactPath: compResp.ArtifactPath,
		Log:          compResp.Log,
	}, nil
}
