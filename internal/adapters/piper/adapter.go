// Package piper synthesizes speech with a local piper executable.
package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"

	"github.com/ncecere/voice_gateway/internal/adapters/procutil"
	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
	"github.com/ncecere/voice_gateway/internal/providers/streamutil"
)

const (
	backendName    = "piper"
	readChunkSize  = 16 * 1024
	bitsPerSample  = 16
	channels       = 1
	unknownDataLen = 0xFFFFFFFF
)

// Options configure the piper adapter.
type Options struct {
	Command   string
	ModelPath string
	// Speaker is used when a request does not name one.
	Speaker string
	// SampleRate of the voice model, written into streamed WAV headers.
	SampleRate int
	TempDir    string
	Timeout    time.Duration
}

type Adapter struct {
	argv       []string
	modelPath  string
	speaker    string
	sampleRate int
	tempDir    string
	timeout    time.Duration
}

func New(opts Options) (*Adapter, error) {
	argv, err := procutil.ParseCommand(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("piper: %w", err)
	}
	if strings.TrimSpace(opts.ModelPath) == "" {
		return nil, errors.New("piper: model path required")
	}
	sampleRate := opts.SampleRate
	if sampleRate <= 0 {
		sampleRate = 22050
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Adapter{
		argv:       argv,
		modelPath:  opts.ModelPath,
		speaker:    strings.TrimSpace(opts.Speaker),
		sampleRate: sampleRate,
		tempDir:    opts.TempDir,
		timeout:    timeout,
	}, nil
}

func (a *Adapter) Name() string { return backendName }

// Synthesize feeds the text on stdin and returns the complete audio.
func (a *Adapter) Synthesize(ctx context.Context, req models.SynthesisRequest) (models.SynthesisResult, error) {
	format, err := outputFormat(req.Format)
	if err != nil {
		return models.SynthesisResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	var audio []byte
	if format == "pcm" {
		res, err := procutil.Run(ctx, backendName, a.args(req.Speaker, "--output-raw"), strings.NewReader(req.Text))
		if err != nil {
			return models.SynthesisResult{}, err
		}
		audio = res.Stdout
	} else {
		audio, err = a.synthesizeFile(ctx, req)
		if err != nil {
			return models.SynthesisResult{}, err
		}
	}

	return models.SynthesisResult{
		Audio:       audio,
		Format:      format,
		ContentType: models.AudioContentType(format),
		Duration:    time.Since(start),
	}, nil
}

func (a *Adapter) synthesizeFile(ctx context.Context, req models.SynthesisRequest) ([]byte, error) {
	dir, err := os.MkdirTemp(a.tempDir, "piper-*")
	if err != nil {
		return nil, apierr.Internal(fmt.Errorf("create scratch dir: %w", err))
	}
	defer os.RemoveAll(dir)

	output := filepath.Join(dir, "speech.wav")
	if _, err := procutil.Run(ctx, backendName, a.args(req.Speaker, "--output_file", output), strings.NewReader(req.Text)); err != nil {
		return nil, err
	}
	audio, err := os.ReadFile(output)
	if err != nil {
		return nil, apierr.Rejected(backendName, fmt.Sprintf("no audio written: %v", err))
	}
	if !wav.NewDecoder(bytes.NewReader(audio)).IsValidFile() {
		return nil, apierr.Rejected(backendName, "output is not a valid WAV file")
	}
	return audio, nil
}

// SynthesizeStream relays raw PCM from piper's stdout as it is produced. For
// wav output a header with an open-ended data length is sent first.
func (a *Adapter) SynthesizeStream(ctx context.Context, req models.SynthesisRequest) (*streamutil.Stream[models.AudioChunk], error) {
	format, err := outputFormat(req.Format)
	if err != nil {
		return nil, err
	}
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)

	cmd := procutil.Command(runCtx, a.args(req.Speaker, "--output-raw"))
	cmd.Stdin = strings.NewReader(req.Text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, apierr.Internal(err)
	}
	if err := cmd.Start(); err != nil {
		// Classify while runCtx is still live so a missing binary stays unavailable.
		mapped := procutil.MapExit(runCtx, backendName, err, nil)
		cancel()
		return nil, mapped
	}

	closer := func() error {
		cancel()
		return nil
	}
	forward := func(ctx context.Context, yield streamutil.YieldFunc[models.AudioChunk]) error {
		waited := false
		defer func() {
			if !waited {
				cancel()
				_ = cmd.Wait()
			}
		}()

		if format == "wav" {
			if !yield(models.AudioChunk{Data: streamingWAVHeader(a.sampleRate)}) {
				return nil
			}
		}
		buf := make([]byte, readChunkSize)
		for {
			n, readErr := stdout.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if !yield(models.AudioChunk{Data: data}) {
					return nil
				}
			}
			if readErr == nil {
				continue
			}
			waited = true
			if waitErr := cmd.Wait(); waitErr != nil {
				return procutil.MapExit(runCtx, backendName, waitErr, stderr.Bytes())
			}
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, os.ErrClosed) {
				return nil
			}
			return apierr.Classify(backendName, readErr)
		}
	}
	return streamutil.Forward(ctx, closer, forward), nil
}

// Health verifies the executable and the voice model are present.
func (a *Adapter) Health(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return apierr.Classify(backendName, err)
	}
	if err := procutil.CheckBinary(backendName, a.argv[0]); err != nil {
		return err
	}
	return procutil.CheckFile(backendName, a.modelPath)
}

func (a *Adapter) args(speaker string, output ...string) []string {
	args := append([]string{}, a.argv...)
	args = append(args, "--model", a.modelPath)
	args = append(args, output...)
	speaker = strings.TrimSpace(speaker)
	if speaker == "" {
		speaker = a.speaker
	}
	if speaker != "" {
		args = append(args, "--speaker", speaker)
	}
	return args
}

// Formats lists the output formats piper can produce.
var Formats = []string{"wav", "pcm"}

func outputFormat(format string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case "", "wav":
		return "wav", nil
	case "pcm":
		return "pcm", nil
	default:
		return "", apierr.Rejected(backendName, fmt.Sprintf("format %q not supported, piper produces wav or pcm", format))
	}
}

// streamingWAVHeader builds a 44-byte PCM header whose RIFF and data sizes
// are left at their maximum since the final length is not known up front.
func streamingWAVHeader(sampleRate int) []byte {
	var b bytes.Buffer
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)

	b.WriteString("RIFF")
	_ = binary.Write(&b, binary.LittleEndian, uint32(unknownDataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	_ = binary.Write(&b, binary.LittleEndian, uint32(16))
	_ = binary.Write(&b, binary.LittleEndian, uint16(1))
	_ = binary.Write(&b, binary.LittleEndian, uint16(channels))
	_ = binary.Write(&b, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&b, binary.LittleEndian, byteRate)
	_ = binary.Write(&b, binary.LittleEndian, blockAlign)
	_ = binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))
	b.WriteString("data")
	_ = binary.Write(&b, binary.LittleEndian, uint32(unknownDataLen))
	return b.Bytes()
}
