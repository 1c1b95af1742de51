package whispercpp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
)

// fakeWhisper writes a shell script that mimics whisper-cli's text output.
func fakeWhisper(t *testing.T, body string) (command, model string) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("fake whisper-cli needs /bin/sh")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "whisper-cli")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body), 0o755))
	model = filepath.Join(dir, "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("model"), 0o600))
	return script, model
}

const writesTxt = `
echo "$@" > "$(dirname "$0")/args.log"
while [ $# -gt 0 ]; do
  case "$1" in
    -f) f="$2"; shift ;;
  esac
  shift
done
printf ' hello from whisper \n' > "$f.txt"
`

func TestTranscribeReadsTextFile(t *testing.T) {
	command, model := fakeWhisper(t, writesTxt)
	a, err := New(Options{Command: command, ModelPath: model, Threads: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)

	res, err := a.Transcribe(context.Background(), models.TranscriptionRequest{Audio: []byte("not-a-riff"), Language: "en"})
	require.NoError(t, err)
	require.Equal(t, "hello from whisper", res.Text)
	require.Equal(t, "en", res.Language)

	args, err := os.ReadFile(filepath.Join(filepath.Dir(command), "args.log"))
	require.NoError(t, err)
	require.Contains(t, string(args), "-m "+model)
	require.Contains(t, string(args), "-t 2")
	require.Contains(t, string(args), "--output-txt")
	require.Contains(t, string(args), "-of ")
	require.Contains(t, string(args), "-l en")
}

func TestTranscribeFallsBackToStdout(t *testing.T) {
	command, model := fakeWhisper(t, `echo "[00:00:00.000 --> 00:00:02.000]  first part"; echo "second part"`)
	a, err := New(Options{Command: command, ModelPath: model, Timeout: 5 * time.Second})
	require.NoError(t, err)

	res, err := a.Transcribe(context.Background(), models.TranscriptionRequest{Audio: []byte("audio")})
	require.NoError(t, err)
	require.Equal(t, "first part second part", res.Text)
	require.Equal(t, "auto", res.Language)
}

func TestTranscribeFailures(t *testing.T) {
	failing, model := fakeWhisper(t, `echo "failed to read WAV file" >&2; exit 2`)
	slow, slowModel := fakeWhisper(t, `exec sleep 5`)

	tests := []struct {
		name    string
		opts    Options
		audio   []byte
		want    apierr.Kind
		message string
	}{
		{name: "empty audio", opts: Options{Command: failing, ModelPath: model}, want: apierr.KindValidation},
		{name: "corrupt wav", opts: Options{Command: failing, ModelPath: model}, audio: []byte("RIFF\x00\x00\x00\x00JUNKJUNK"), want: apierr.KindValidation},
		{name: "non-zero exit", opts: Options{Command: failing, ModelPath: model}, audio: []byte("audio"), want: apierr.KindRejected, message: "failed to read WAV file"},
		{name: "timeout", opts: Options{Command: slow, ModelPath: slowModel, Timeout: 50 * time.Millisecond}, audio: []byte("audio"), want: apierr.KindTimeout},
		{name: "missing binary", opts: Options{Command: "/nonexistent/whisper-cli", ModelPath: model}, audio: []byte("audio"), want: apierr.KindUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, err := New(tt.opts)
			require.NoError(t, err)
			_, err = a.Transcribe(context.Background(), models.TranscriptionRequest{Audio: tt.audio})
			apiErr, ok := apierr.As(err)
			require.True(t, ok, "unexpected error %v", err)
			require.Equal(t, tt.want, apiErr.Kind)
			if tt.message != "" {
				require.Contains(t, apiErr.PublicMessage(), tt.message)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	command, model := fakeWhisper(t, "exit 0")
	a, err := New(Options{Command: command, ModelPath: model})
	require.NoError(t, err)
	require.NoError(t, a.Health(context.Background()))

	missing, err := New(Options{Command: command, ModelPath: model + ".gone"})
	require.NoError(t, err)
	apiErr, ok := apierr.As(missing.Health(context.Background()))
	require.True(t, ok)
	require.Equal(t, apierr.KindUnavailable, apiErr.Kind)
}

func TestInputExt(t *testing.T) {
	require.Equal(t, ".mp3", inputExt("clip.MP3"))
	require.Equal(t, ".wav", inputExt(""))
	require.True(t, strings.HasPrefix(inputExt("a.flac"), "."))
}
