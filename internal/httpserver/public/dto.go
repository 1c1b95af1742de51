package public

import (
	"encoding/base64"
	"strings"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
)

type generateRequest struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
	Stream       bool     `json:"stream"`
}

type generateMetadata struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	DurationMS       int64 `json:"duration_ms"`
}

type generateResponse struct {
	JobID    string           `json:"job_id"`
	Text     string           `json:"text"`
	Model    string           `json:"model"`
	Metadata generateMetadata `json:"metadata"`
}

type synthesizeRequest struct {
	Text         string `json:"text"`
	Speaker      string `json:"speaker"`
	OutputFormat string `json:"output_format"`
}

type synthesizeResponse struct {
	JobID       string `json:"job_id"`
	AudioBase64 string `json:"audio_base64"`
	Format      string `json:"format"`
}

type processRequest struct {
	Text         string   `json:"text"`
	AudioBase64  string   `json:"audio_base64"`
	Language     string   `json:"language"`
	SystemPrompt string   `json:"system_prompt"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    *int     `json:"max_tokens"`
	ReturnAudio  *bool    `json:"return_audio"`
	Speaker      string   `json:"speaker"`
	OutputFormat string   `json:"output_format"`
}

type processResponse struct {
	JobID       string `json:"job_id"`
	InputText   string `json:"input_text"`
	Text        string `json:"text"`
	AudioBase64 string `json:"audio_base64,omitempty"`
	Format      string `json:"format,omitempty"`
}

type transcribeRequest struct {
	AudioBase64 string `json:"audio_base64"`
	Language    string `json:"language"`
}

type transcribeResponse struct {
	JobID      string   `json:"job_id"`
	Text       string   `json:"text"`
	Language   string   `json:"language"`
	Confidence *float64 `json:"confidence,omitempty"`
}

func validateSampling(temperature *float64, maxTokens *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return apierr.Validation("temperature must be between 0 and 2")
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return apierr.Validation("max_tokens must be greater than 0")
	}
	return nil
}

func validateFormat(format string) error {
	if strings.TrimSpace(format) == "" || models.IsAudioFormat(format) {
		return nil
	}
	return apierr.Validation("output_format must be one of %s", strings.Join(models.AudioFormats, ", "))
}

func (r generateRequest) toModel() (models.GenerateRequest, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return models.GenerateRequest{}, apierr.Validation("prompt is required")
	}
	if err := validateSampling(r.Temperature, r.MaxTokens); err != nil {
		return models.GenerateRequest{}, err
	}
	return models.GenerateRequest{
		Prompt:      r.Prompt,
		System:      r.SystemPrompt,
		Temperature: r.Temperature,
		MaxTokens:   intValue(r.MaxTokens),
	}, nil
}

func (r synthesizeRequest) toModel() (models.SynthesisRequest, error) {
	if strings.TrimSpace(r.Text) == "" {
		return models.SynthesisRequest{}, apierr.Validation("text is required")
	}
	if err := validateFormat(r.OutputFormat); err != nil {
		return models.SynthesisRequest{}, err
	}
	return models.SynthesisRequest{
		Text:    r.Text,
		Speaker: strings.TrimSpace(r.Speaker),
		Format:  strings.ToLower(strings.TrimSpace(r.OutputFormat)),
	}, nil
}

func (r processRequest) toModel() (models.ProcessRequest, error) {
	hasText := strings.TrimSpace(r.Text) != ""
	hasAudio := strings.TrimSpace(r.AudioBase64) != ""
	if hasText == hasAudio {
		return models.ProcessRequest{}, apierr.Validation("exactly one of text or audio_base64 is required")
	}
	if err := validateSampling(r.Temperature, r.MaxTokens); err != nil {
		return models.ProcessRequest{}, err
	}
	if err := validateFormat(r.OutputFormat); err != nil {
		return models.ProcessRequest{}, err
	}

	req := models.ProcessRequest{
		Text:        r.Text,
		Language:    strings.TrimSpace(r.Language),
		System:      r.SystemPrompt,
		Temperature: r.Temperature,
		MaxTokens:   intValue(r.MaxTokens),
		ReturnAudio: r.ReturnAudio == nil || *r.ReturnAudio,
		Speaker:     strings.TrimSpace(r.Speaker),
		Format:      strings.ToLower(strings.TrimSpace(r.OutputFormat)),
	}
	if hasAudio {
		audio, err := decodeAudio(r.AudioBase64)
		if err != nil {
			return models.ProcessRequest{}, err
		}
		req.Text = ""
		req.Audio = audio
		req.Filename = "input.wav"
	}
	return req, nil
}

func (r transcribeRequest) toModel() (models.TranscriptionRequest, error) {
	if strings.TrimSpace(r.AudioBase64) == "" {
		return models.TranscriptionRequest{}, apierr.Validation("audio_base64 is required")
	}
	audio, err := decodeAudio(r.AudioBase64)
	if err != nil {
		return models.TranscriptionRequest{}, err
	}
	return models.TranscriptionRequest{
		Audio:    audio,
		Filename: "input.wav",
		Language: strings.TrimSpace(r.Language),
	}, nil
}

// decodeAudio accepts standard base64, with or without a data URL prefix.
func decodeAudio(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		if idx := strings.Index(raw, ","); idx >= 0 {
			raw = raw[idx+1:]
		}
	}
	audio, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, apierr.Validation("audio_base64 is not valid base64")
	}
	if len(audio) == 0 {
		return nil, apierr.Validation("audio_base64 decodes to an empty payload")
	}
	return audio, nil
}

func intValue(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
