package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// NIMEngine generates embeddings using NVIDIA NIM, which exposes an
// OpenAI-compatible embeddings endpoint with an extra input_type knob.
type NIMEngine struct {
	apiKey    string
	endpoint  string
	model     string
	inputType string
	client    *http.Client
}

// NewNIMEngine creates a NIM embedding engine. taskType follows the same
// vocabulary as the GenAI engine and maps onto nv-embedqa input types.
func NewNIMEngine(apiKey, endpoint, model, taskType string) (*NIMEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("NIM API key is required")
	}
	if endpoint == "" {
		endpoint = "https://integrate.api.nvidia.com/v1"
	}
	if model == "" {
		model = "nvidia/nv-embedqa-e5-v5"
	}

	// nv-embedqa models distinguish query and passage embeddings
	inputType := "query"
	if taskType == "RETRIEVAL_DOCUMENT" {
		inputType = "passage"
	}

	return &NIMEngine{
		apiKey:    apiKey,
		endpoint:  strings.TrimRight(endpoint, "/"),
		model:     model,
		inputType: inputType,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type nimEmbedRequest struct {
	Input          []string `json:"input"`
	Model          string   `json:"model"`
	EncodingFormat string   `json:"encoding_format"`
	InputType      string   `json:"input_type"`
	Truncate       string   `json:"truncate"`
}

type nimEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates an embedding for a single text.
func (e *NIMEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (e *NIMEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := nimEmbedRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: "float",
		InputType:      e.inputType,
		Truncate:       "NONE",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", e.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("NIM request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("NIM returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var result nimEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("NIM error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return entries out of order; place by index
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < 0 || d.Index >= len(embeddings) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
// nv-embedqa-e5-v5 produces 1024-dimensional vectors.
func (e *NIMEngine) Dimensions() int {
	return 1024
}

// Name returns the engine name.
func (e *NIMEngine) Name() string {
	return fmt.Sprintf("nim:%s", e.model)
}

// HealthCheck embeds a short probe string to verify the service.
func (e *NIMEngine) HealthCheck(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}
