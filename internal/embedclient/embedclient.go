// Package embedclient implements the Embedding Client (spec §4.D): an
// OpenAI-compatible REST client that distinguishes "document" (storage) and
// "query" (search-time) task types, since several OpenAI-compatible
// providers (and the retrieval-optimized models they serve) produce better
// vectors when told which side of the search the text is on.
//
// Grounded on the teacher's internal/embedding/openai.go REST client; the
// teacher's own request shape carries no task-type field, so the task-type
// parameter, its plumbing through Config, and the query/document split are
// added here per spec §4.D (openai.go's sibling ONNX-model code and its
// go.mod-absent onnxruntime_go/sugarme dependencies are not carried
// forward — see DESIGN.md).
package embedclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mirahq/mira/internal/errorsx"
)

// TaskType distinguishes how a text will be used, so the provider can return
// an asymmetric embedding optimized for that side of a search.
type TaskType string

const (
	TaskDocument TaskType = "document"
	TaskQuery    TaskType = "query"
)

const defaultHTTPTimeout = 30 * time.Second

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	ModelName  string
	Dimensions int
	Timeout    time.Duration
}

// Client is an OpenAI-compatible embeddings REST client.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	modelName  string
	dimensions int
}

// New builds a Client. Absence of an API key means semantic features are
// disabled for this project; callers check Enabled() rather than treating a
// missing key as an error (spec §6).
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{
		http:       &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		modelName:  cfg.ModelName,
		dimensions: cfg.Dimensions,
	}
}

// Enabled reports whether this client has credentials to call a provider.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Dimensions returns the configured embedding vector size.
func (c *Client) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Input          interface{} `json:"input"`
	Model          string      `json:"model"`
	EncodingFormat string      `json:"encoding_format"`
	TaskType       string      `json:"task_type,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

// Embed embeds a single text for the given task type.
func (c *Client) Embed(ctx context.Context, task TaskType, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, c.dimensions), nil
	}
	results, err := c.embedRequest(ctx, task, text)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errorsx.ProviderUnavailable(c.baseURL, fmt.Errorf("no results for model %s", c.modelName))
	}
	return results[0], nil
}

// EmbedBatch embeds multiple texts for the given task type in one call.
// Empty texts are mapped to zero vectors rather than sent to the provider.
func (c *Client) EmbedBatch(ctx context.Context, task TaskType, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	nonEmpty := make([]string, 0, len(texts))
	indices := make([]int, 0, len(texts))
	for i, t := range texts {
		if t != "" {
			nonEmpty = append(nonEmpty, t)
			indices = append(indices, i)
		}
	}

	results := make([][]float32, len(texts))
	for i := range results {
		results[i] = make([]float32, c.dimensions)
	}
	if len(nonEmpty) == 0 {
		return results, nil
	}

	embedded, err := c.embedRequest(ctx, task, nonEmpty)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(nonEmpty) {
		return nil, errorsx.ProviderUnavailable(c.baseURL, fmt.Errorf(
			"provider returned %d results for %d inputs", len(embedded), len(nonEmpty)))
	}
	for i, idx := range indices {
		results[idx] = embedded[i]
	}
	return results, nil
}

func (c *Client) embedRequest(ctx context.Context, task TaskType, input interface{}) ([][]float32, error) {
	reqBody := embedRequest{
		Input:          input,
		Model:          c.modelName,
		EncodingFormat: "float",
		TaskType:       string(task),
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errorsx.Cancelled("embed")
		}
		return nil, errorsx.ProviderUnavailable(c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errorsx.ProviderUnavailable(c.baseURL, fmt.Errorf(
			"status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })

	results := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		results[i] = d.Embedding
	}
	return results, nil
}
