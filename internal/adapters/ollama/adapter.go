package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

const backendName = "ollama"

// Options configure the native Ollama adapter.
type Options struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter talks to the Ollama REST API (/api/generate, /api/tags).
type Adapter struct {
	endpoint string
	model    string
	timeout  time.Duration
	client   *http.Client
}

// New creates an Ollama adapter for a single model.
func New(opts Options) (*Adapter, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, errors.New("ollama: endpoint required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("ollama: model required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{endpoint: endpoint, model: opts.Model, timeout: timeout, client: client}, nil
}

func (a *Adapter) Name() string { return backendName }

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options requestOptions `json:"options"`
}

type requestOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	EvalCount       int    `json:"eval_count,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Generate performs a non-streaming completion.
func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.post(ctx, a.buildRequest(req, false))
	if err != nil {
		return models.GenerationResult{}, err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.GenerationResult{}, apierr.Classify(backendName, ctxErr)
		}
		return models.GenerationResult{}, apierr.Rejected(backendName, fmt.Sprintf("decode response: %v", err))
	}
	if out.Error != "" {
		return models.GenerationResult{}, apierr.Rejected(backendName, out.Error)
	}
	model := out.Model
	if model == "" {
		model = a.model
	}
	return models.GenerationResult{
		Text:             out.Response,
		Model:            model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		Duration:         time.Since(start),
	}, nil
}

// GenerateStream performs a streaming completion over Ollama's NDJSON framing.
func (a *Adapter) GenerateStream(ctx context.Context, req models.GenerateRequest) (*streamutil.Stream[models.GenerationChunk], error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	resp, err := a.post(ctx, a.buildRequest(req, true))
	if err != nil {
		cancel()
		return nil, err
	}

	closer := func() error {
		cancel()
		return resp.Body.Close()
	}
	forward := func(ctx context.Context, yield streamutil.YieldFunc[models.GenerationChunk]) error {
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk generateResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				return apierr.Rejected(backendName, fmt.Sprintf("decode stream chunk: %v", err))
			}
			if chunk.Error != "" {
				return apierr.Rejected(backendName, chunk.Error)
			}
			if !yield(models.GenerationChunk{
				Text:             chunk.Response,
				Done:             chunk.Done,
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
			}) {
				return nil
			}
			if chunk.Done {
				return nil
			}
		}
		if err := scanner.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return apierr.Classify(backendName, err)
		}
		return nil
	}

	return streamutil.Forward(ctx, closer, forward), nil
}

// Health lists installed models and verifies the configured one is present.
func (a *Adapter) Health(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.endpoint+"/api/tags", nil)
	if err != nil {
		return apierr.Internal(err)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return apierr.Classify(backendName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apierr.FromStatus(backendName, resp.StatusCode, readErrorBody(resp.Body))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return apierr.Rejected(backendName, fmt.Sprintf("decode tags: %v", err))
	}
	for _, m := range tags.Models {
		if modelMatches(a.model, m.Name) || modelMatches(a.model, m.Model) {
			return nil
		}
	}
	return apierr.Rejected(backendName, fmt.Sprintf("model %q is not installed", a.model))
}

func (a *Adapter) buildRequest(req models.GenerateRequest, stream bool) generateRequest {
	return generateRequest{
		Model:  a.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: stream,
		Options: requestOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
}

func (a *Adapter) post(ctx context.Context, payload generateRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apierr.Internal(err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, apierr.Internal(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, apierr.Classify(backendName, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, apierr.FromStatus(backendName, resp.StatusCode, readErrorBody(resp.Body))
	}
	return resp, nil
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}

// modelMatches treats "llama3" and "llama3:latest" as the same model.
func modelMatches(want, have string) bool {
	if have == "" {
		return false
	}
	if want == have {
		return true
	}
	if !strings.Contains(want, ":") {
		return want+":latest" == have
	}
	return false
}
