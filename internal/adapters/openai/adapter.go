package openai

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

const backendName = "openai"

// placeholderKey satisfies the SDK when a self-hosted server ignores auth.
const placeholderKey = "sk-no-key-required"

const audioChunkSize = 16 * 1024

// Options configure the OpenAI-compatible adapter.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	// Voice is the default speaker for speech synthesis.
	Voice   string
	Timeout time.Duration
	Extra   []option.RequestOption
}

// Adapter wraps the official OpenAI SDK for any OpenAI-compatible
// deployment. One adapter serves one role and one model.
type Adapter struct {
	client  *openai.Client
	model   string
	voice   string
	timeout time.Duration
}

// New creates an adapter bound to BaseURL. The SDK's own retries are
// disabled; callers see the first upstream failure.
func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("openai: base url required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model required")
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = placeholderKey
	}

	requestOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")),
		option.WithMaxRetries(0),
	}
	requestOpts = append(requestOpts, opts.Extra...)
	client := openai.NewClient(requestOpts...)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	voice := strings.TrimSpace(opts.Voice)
	if voice == "" {
		voice = "alloy"
	}
	return &Adapter{client: &client, model: opts.Model, voice: voice, timeout: timeout}, nil
}

func (a *Adapter) Name() string { return backendName }

// Generate performs a non-streaming chat completion.
func (a *Adapter) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	resp, err := a.client.Chat.Completions.New(ctx, a.buildChatParams(req))
	if err != nil {
		return models.GenerationResult{}, mapError(err)
	}
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	model := resp.Model
	if model == "" {
		model = a.model
	}
	return models.GenerationResult{
		Text:             text,
		Model:            model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Duration:         time.Since(start),
	}, nil
}

// GenerateStream performs a streaming chat completion.
func (a *Adapter) GenerateStream(ctx context.Context, req models.GenerateRequest) (*streamutil.Stream[models.GenerationChunk], error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	params := a.buildChatParams(req)
	params.StreamOptions.IncludeUsage = param.NewOpt(true)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		cancel()
		return nil, mapError(err)
	}

	closer := func() error {
		cancel()
		return stream.Close()
	}
	forward := func(ctx context.Context, yield streamutil.YieldFunc[models.GenerationChunk]) error {
		for stream.Next() {
			chunk := stream.Current()
			out := models.GenerationChunk{
				PromptTokens:     int(chunk.Usage.PromptTokens),
				CompletionTokens: int(chunk.Usage.CompletionTokens),
			}
			if len(chunk.Choices) > 0 {
				out.Text = chunk.Choices[0].Delta.Content
				out.Done = chunk.Choices[0].FinishReason != ""
			}
			if out.Text == "" && !out.Done && out.CompletionTokens == 0 {
				continue
			}
			if !yield(out) {
				return nil
			}
		}
		if err := stream.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return mapError(err)
		}
		return nil
	}
	return streamutil.Forward(ctx, closer, forward), nil
}

// Transcribe performs speech-to-text via the Audio Transcriptions API.
func (a *Adapter) Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResult, error) {
	if len(req.Audio) == 0 {
		return models.TranscriptionResult{}, apierr.Validation("audio is required")
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "audio.wav"
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = models.AudioContentType(strings.TrimPrefix(filepath.Ext(filename), "."))
	}
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(req.Audio), filename, contentType),
		Model: openai.AudioModel(a.model),
	}
	if lang := strings.TrimSpace(req.Language); lang != "" && lang != "auto" {
		params.Language = openai.String(lang)
	}

	start := time.Now()
	resp, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return models.TranscriptionResult{}, mapError(err)
	}
	language := resp.Language
	if language == "" {
		language = req.Language
	}
	if language == "" {
		language = "auto"
	}
	return models.TranscriptionResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: language,
		Duration: time.Since(start),
	}, nil
}

// Synthesize performs text-to-speech via the Audio Speech API.
func (a *Adapter) Synthesize(ctx context.Context, req models.SynthesisRequest) (models.SynthesisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	format := speechFormat(req.Format)
	resp, err := a.client.Audio.Speech.New(ctx, a.buildSpeechParams(req, format))
	if err != nil {
		return models.SynthesisResult{}, mapError(err)
	}
	defer resp.Body.Close()
	audioBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.SynthesisResult{}, apierr.Classify(backendName, err)
	}
	return models.SynthesisResult{
		Audio:       audioBytes,
		Format:      format,
		ContentType: models.AudioContentType(format),
		Duration:    time.Since(start),
	}, nil
}

// SynthesizeStream relays the speech response body as it arrives.
func (a *Adapter) SynthesizeStream(ctx context.Context, req models.SynthesisRequest) (*streamutil.Stream[models.AudioChunk], error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	format := speechFormat(req.Format)
	resp, err := a.client.Audio.Speech.New(ctx, a.buildSpeechParams(req, format))
	if err != nil {
		cancel()
		return nil, mapError(err)
	}

	closer := func() error {
		cancel()
		return resp.Body.Close()
	}
	forward := func(ctx context.Context, yield streamutil.YieldFunc[models.AudioChunk]) error {
		buf := make([]byte, audioChunkSize)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if !yield(models.AudioChunk{Data: data}) {
					return nil
				}
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return apierr.Classify(backendName, err)
			}
		}
	}
	return streamutil.Forward(ctx, closer, forward), nil
}

// Health uses the Models API as a lightweight readiness probe.
func (a *Adapter) Health(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx); err != nil {
		return mapError(err)
	}
	return nil
}

func (a *Adapter) buildChatParams(req models.GenerateRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system := strings.TrimSpace(req.System); system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(a.model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

func (a *Adapter) buildSpeechParams(req models.SynthesisRequest, format string) openai.AudioSpeechNewParams {
	voice := strings.TrimSpace(req.Speaker)
	if voice == "" {
		voice = a.voice
	}
	params := openai.AudioSpeechNewParams{
		Model: openai.SpeechModel(a.model),
		Input: req.Text,
		Voice: openai.AudioSpeechNewParamsVoice(voice),
	}
	params.ResponseFormat = openai.AudioSpeechNewParamsResponseFormat(format)
	return params
}

func speechFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		return "wav"
	}
	return format
}

// mapError converts SDK failures into the gateway's error taxonomy.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var sdkErr *openai.Error
	if errors.As(err, &sdkErr) {
		detail := strings.TrimSpace(sdkErr.Message)
		return apierr.FromStatus(backendName, sdkErr.StatusCode, detail)
	}
	return apierr.Classify(backendName, err)
}
