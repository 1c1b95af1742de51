// Package whispercpp transcribes audio with a local whisper.cpp executable.
package whispercpp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/ncecere/voice_gateway/internal/adapters/procutil"
	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
)

const backendName = "whispercpp"

// Options configure the whisper.cpp adapter.
type Options struct {
	// Command is the executable plus any fixed leading arguments.
	Command   string
	ModelPath string
	Threads   int
	// Language is used when a request does not name one.
	Language string
	TempDir  string
	Timeout  time.Duration
}

type Adapter struct {
	argv      []string
	modelPath string
	threads   int
	language  string
	tempDir   string
	timeout   time.Duration
}

func New(opts Options) (*Adapter, error) {
	argv, err := procutil.ParseCommand(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("whispercpp: %w", err)
	}
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("whispercpp: model path required")
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = 4
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Adapter{
		argv:      argv,
		modelPath: opts.ModelPath,
		threads:   threads,
		language:  strings.TrimSpace(opts.Language),
		tempDir:   opts.TempDir,
		timeout:   timeout,
	}, nil
}

func (a *Adapter) Name() string { return backendName }

// Transcribe writes the audio to a scratch directory, runs whisper.cpp with
// text output enabled and reads <input>.txt, falling back to stdout.
func (a *Adapter) Transcribe(ctx context.Context, req models.TranscriptionRequest) (models.TranscriptionResult, error) {
	if len(req.Audio) == 0 {
		return models.TranscriptionResult{}, apierr.Validation("audio is required")
	}
	if err := validateWAV(req.Audio); err != nil {
		return models.TranscriptionResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	dir, err := os.MkdirTemp(a.tempDir, "whisper-*")
	if err != nil {
		return models.TranscriptionResult{}, apierr.Internal(fmt.Errorf("create scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	input, err := procutil.WriteTemp(dir, "input-*"+inputExt(req.Filename), req.Audio)
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = a.language
	}

	start := time.Now()
	res, err := procutil.Run(ctx, backendName, a.args(input, language), nil)
	if err != nil {
		return models.TranscriptionResult{}, err
	}

	text := ""
	if data, readErr := os.ReadFile(input + ".txt"); readErr == nil {
		text = strings.TrimSpace(string(data))
	} else {
		text = cleanStdout(res.Stdout)
	}

	if language == "" {
		language = "auto"
	}
	return models.TranscriptionResult{
		Text:     text,
		Language: language,
		Duration: time.Since(start),
	}, nil
}

// Health verifies the executable and the model file are present.
func (a *Adapter) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apierr.Classify(backendName, err)
	}
	if err := procutil.CheckBinary(backendName, a.argv[0]); err != nil {
		return err
	}
	return procutil.CheckFile(backendName, a.modelPath)
}

func (a *Adapter) args(input, language string) []string {
	args := append([]string{}, a.argv...)
	args = append(args,
		"-m", a.modelPath,
		"-f", input,
		"-t", strconv.Itoa(a.threads),
		"--output-txt",
		"-of", input,
		"-nt",
	)
	if language != "" {
		args = append(args, "-l", language)
	}
	return args
}

// validateWAV rejects RIFF payloads whose header cannot be decoded. Other
// containers are passed through for whisper.cpp to judge.
func validateWAV(audio []byte) error {
	if len(audio) < 12 || !bytes.Equal(audio[:4], []byte("RIFF")) {
		return nil
	}
	dec := wav.NewDecoder(bytes.NewReader(audio))
	if !dec.IsValidFile() {
		return apierr.Validation("audio is not a valid WAV file")
	}
	return nil
}

func inputExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	if ext == "" || len(ext) > 6 {
		return ".wav"
	}
	return ext
}

var timestampPrefix = regexp.MustCompile(`^\[[0-9:.]+ --> [0-9:.]+\]\s*`)

func cleanStdout(out []byte) string {
	lines := strings.Split(string(out), "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(timestampPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, " ")
}
