package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tracegraph/genealogy-backend/internal/graph"
	"github.com/tracegraph/genealogy-backend/internal/logger"
	"github.com/tracegraph/genealogy-backend/internal/types"
)

// GeneratorClient is the external generation collaborator. It returns raw,
// untrusted fragments; validation and grounding happen downstream in the
// merge engine. Terminal failures come back wrapped in
// graph.ErrGenerationFailed.
type GeneratorClient interface {
	GenerateRoadmap(ctx context.Context, concept string) (types.GraphData, error)
	GenerateExpansion(ctx context.Context, concept, parentLabel, parentID string, contextType types.NodeType) (types.GraphData, error)
}

const rootSystemPrompt = `You are a concept genealogy engine.
Analyze the user's concept and generate a small directed graph describing it
across 3 dimensions around a single central "input" node:
1. root (history): who coined it, when, and the key ancestors it grew out of.
2. core (definition): the mechanisms and sub-components that make it what it is.
3. path (learning): the tools and prerequisites someone would study to learn it.
Give every node a short label, a 2-3 sentence "details" field, and connect the
ids logically outward from the input node with active-verb edge labels.`

const expansionSystemPrompt = `You are a concept genealogy engine expanding one
node of an existing graph into a deeper sub-graph. The dimension decides what
the sub-nodes are:
- root: historical ancestors and influences of the parent node.
- core: internal mechanisms and sub-components of the parent node.
- path: tools and prerequisites for learning the parent node.
Anchor every new top-level node to the parent node's id with an edge, and give
every node a short label and a 2-3 sentence "details" field.`

type generatorClient struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client

	maxRetries int
}

func NewGeneratorClient(log *logger.Logger) (GeneratorClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}

	baseURL := os.Getenv("OPENAI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	timeoutSec := 180
	if v := os.Getenv("OPENAI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	maxRetries := 4
	if v := os.Getenv("OPENAI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &generatorClient{
		log:        log.With("service", "GeneratorClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (c *generatorClient) GenerateRoadmap(ctx context.Context, concept string) (types.GraphData, error) {
	user := fmt.Sprintf("Generate a genealogy graph for the concept: %s", concept)
	return c.generateGraph(ctx, rootSystemPrompt, user)
}

func (c *generatorClient) GenerateExpansion(ctx context.Context, concept, parentLabel, parentID string, contextType types.NodeType) (types.GraphData, error) {
	user := fmt.Sprintf(
		"Overall concept: %s\nParent node: %s (id %q)\nDimension to expand: %s\nGenerate the sub-graph.",
		concept, parentLabel, parentID, contextType,
	)
	return c.generateGraph(ctx, expansionSystemPrompt, user)
}

func (c *generatorClient) generateGraph(ctx context.Context, system, user string) (types.GraphData, error) {
	req := chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   "graph_fragment",
				Strict: true,
				Schema: graphFragmentSchema(),
			},
		},
	}

	var resp chatCompletionResponse
	if err := c.do(ctx, "POST", "/v1/chat/completions", req, &resp); err != nil {
		return types.GraphData{}, fmt.Errorf("%w: %v", graph.ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return types.GraphData{}, fmt.Errorf("%w: empty completion", graph.ErrGenerationFailed)
	}

	var frag types.GraphData
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), &frag); err != nil {
		return types.GraphData{}, fmt.Errorf("%w: undecodable fragment: %v", graph.ErrGenerationFailed, err)
	}
	return frag, nil
}

func graphFragmentSchema() map[string]any {
	nodeSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":      map[string]any{"type": "string"},
			"label":   map[string]any{"type": "string"},
			"type":    map[string]any{"type": "string", "enum": []string{"input", "root", "core", "path"}},
			"details": map[string]any{"type": "string"},
			"year":    map[string]any{"type": []string{"string", "null"}},
			"tag":     map[string]any{"type": []string{"string", "null"}},
			"capabilities": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "enum": []string{"expand", "pivot"}},
			},
		},
		"required":             []string{"id", "label", "type", "details"},
		"additionalProperties": false,
	}
	edgeSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"source": map[string]any{"type": "string"},
			"target": map[string]any{"type": "string"},
			"label":  map[string]any{"type": "string"},
		},
		"required":             []string{"source", "target", "label"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nodes": map[string]any{"type": "array", "items": nodeSchema},
			"edges": map[string]any{"type": "array", "items": edgeSchema},
		},
		"required":             []string{"nodes", "edges"},
		"additionalProperties": false,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type generatorHTTPError struct {
	StatusCode int
	Body       string
}

func (e *generatorHTTPError) Error() string {
	return fmt.Sprintf("generator http %d: %s", e.StatusCode, e.Body)
}

func isRetryableHTTP(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	if code >= 500 && code <= 599 {
		return true
	}
	return false
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
	}
	var httpErr *generatorHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	// +/- 20%
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

func (c *generatorClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &generatorHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *generatorClient) do(ctx context.Context, method, path string, body any, out any) error {
	// exponential backoff: 1s, 2s, 4s, 8s (cap ~10s)
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("generator decode error: %w; raw=%s", uErr, string(raw))
			}
			return nil
		}

		// A canceled or expired caller context is never worth a retry,
		// whatever shape the transport error took.
		if ctx.Err() != nil {
			return err
		}
		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		// Respect Retry-After when present
		sleepFor := backoff
		if resp != nil {
			ra := strings.TrimSpace(resp.Header.Get("Retry-After"))
			if ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}

		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Generator request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}
