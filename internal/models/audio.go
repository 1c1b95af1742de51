package models

import (
	"strings"
	"time"
)

// TranscriptionRequest carries one audio payload for speech-to-text.
type TranscriptionRequest struct {
	Audio       []byte
	Filename    string
	ContentType string
	Language    string
}

// TranscriptionResult is the normalized transcriber output. Language is
// "auto" when the caller did not declare one and the backend did not detect one.
type TranscriptionResult struct {
	Text       string
	Language   string
	Confidence *float64
	Duration   time.Duration
}

// SynthesisRequest drives text-to-speech generation.
type SynthesisRequest struct {
	Text    string
	Speaker string
	Format  string
}

// SynthesisResult holds the rendered audio (non-streaming).
type SynthesisResult struct {
	Audio       []byte
	Format      string
	ContentType string
	Duration    time.Duration
}

// AudioChunk is one block of a streamed synthesis.
type AudioChunk struct {
	Data []byte
}

// AudioFormats lists the output formats accepted on synthesis requests.
var AudioFormats = []string{"wav", "mp3", "opus", "flac", "aac", "pcm"}

// IsAudioFormat reports whether format is a known output format.
func IsAudioFormat(format string) bool {
	format = strings.ToLower(strings.TrimSpace(format))
	for _, f := range AudioFormats {
		if f == format {
			return true
		}
	}
	return false
}

// AudioContentType maps an output format to its MIME type.
func AudioContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "mp3":
		return "audio/mpeg"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "opus":
		return "audio/opus"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/L16"
	default:
		return "audio/mpeg"
	}
}
