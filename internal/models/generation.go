package models

import "time"

// GenerateRequest is a single-turn prompt for the language model.
type GenerateRequest struct {
	Prompt      string
	System      string
	Temperature *float64
	MaxTokens   int
}

// GenerationResult is a completed (buffered) generation.
type GenerationResult struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// GenerationChunk is one piece of a streamed generation. The final chunk has
// Done set and carries token counts when the backend reports them.
type GenerationChunk struct {
	Text             string
	Done             bool
	PromptTokens     int
	CompletionTokens int
}

// ProcessRequest is the full pipeline input: exactly one of Text or Audio.
type ProcessRequest struct {
	Text        string
	Audio       []byte
	Filename    string
	Language    string
	System      string
	Temperature *float64
	MaxTokens   int
	ReturnAudio bool
	Speaker     string
	Format      string
}

// HasAudio reports whether the request enters the pipeline at transcription.
func (r ProcessRequest) HasAudio() bool {
	return len(r.Audio) > 0
}
