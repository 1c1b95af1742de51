package piper

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/models"
)

const fakePiperScript = `#!/bin/sh
dir="$(dirname "$0")"
cat > "$dir/stdin.txt"
echo "$@" > "$dir/args.log"
while [ $# -gt 0 ]; do
  case "$1" in
    --output_file) out="$2"; shift ;;
    --output-raw) raw=1 ;;
  esac
  shift
done
if [ -n "$raw" ]; then
  cat "$dir/fixture.pcm"
else
  cp "$dir/fixture.wav" "$out"
fi
`

// writeFixtureWAV encodes a short 16-bit mono tone and stores it next to the
// fake piper binary.
func writeFixtureWAV(t *testing.T, dir string) []byte {
	t.Helper()
	path := filepath.Join(dir, "fixture.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	samples := make([]int, 2205)
	for i := range samples {
		samples[i] = (i % 100) * 300
	}
	enc := wav.NewEncoder(f, 22050, 16, 1, 1)
	buf := &audio.IntBuffer{Format: &audio.Format{NumChannels: 1, SampleRate: 22050}, Data: samples, SourceBitDepth: 16}
	require.NoError(t, enc.Write(buf))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	pcm := new(bytes.Buffer)
	for _, s := range samples {
		require.NoError(t, binary.Write(pcm, binary.LittleEndian, int16(s)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.pcm"), pcm.Bytes(), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newFakePiper(t *testing.T, script string) (*Adapter, string, []byte) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("fake piper needs /bin/sh")
	}
	dir := t.TempDir()
	fixture := writeFixtureWAV(t, dir)
	command := filepath.Join(dir, "piper")
	require.NoError(t, os.WriteFile(command, []byte(script), 0o755))
	model := filepath.Join(dir, "en_US-lessac-medium.onnx")
	require.NoError(t, os.WriteFile(model, []byte("onnx"), 0o600))

	a, err := New(Options{Command: command, ModelPath: model, Speaker: "3", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return a, dir, fixture
}

func TestSynthesizeReturnsWAVFile(t *testing.T) {
	a, dir, fixture := newFakePiper(t, fakePiperScript)

	res, err := a.Synthesize(context.Background(), models.SynthesisRequest{Text: "Hello world"})
	require.NoError(t, err)
	require.Equal(t, fixture, res.Audio)
	require.Equal(t, "wav", res.Format)
	require.Equal(t, "audio/wav", res.ContentType)

	stdin, err := os.ReadFile(filepath.Join(dir, "stdin.txt"))
	require.NoError(t, err)
	require.Equal(t, "Hello world", string(stdin))
	args, err := os.ReadFile(filepath.Join(dir, "args.log"))
	require.NoError(t, err)
	require.Contains(t, string(args), "--speaker 3")
	require.Contains(t, string(args), "--output_file")
}

func TestSynthesizePCMUsesRawOutput(t *testing.T) {
	a, dir, _ := newFakePiper(t, fakePiperScript)
	res, err := a.Synthesize(context.Background(), models.SynthesisRequest{Text: "Hi", Format: "pcm", Speaker: "0"})
	require.NoError(t, err)

	pcm, err := os.ReadFile(filepath.Join(dir, "fixture.pcm"))
	require.NoError(t, err)
	require.Equal(t, pcm, res.Audio)
	args, err := os.ReadFile(filepath.Join(dir, "args.log"))
	require.NoError(t, err)
	require.Contains(t, string(args), "--speaker 0")
}

func TestSynthesizeStreamPrefixesWAVHeader(t *testing.T) {
	a, dir, _ := newFakePiper(t, fakePiperScript)

	stream, err := a.SynthesizeStream(context.Background(), models.SynthesisRequest{Text: "Hello", Format: "wav"})
	require.NoError(t, err)
	var got []byte
	for chunk := range stream.Chunks() {
		got = append(got, chunk.Data...)
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())

	pcm, err := os.ReadFile(filepath.Join(dir, "fixture.pcm"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(got), 44)
	require.Equal(t, "RIFF", string(got[:4]))
	require.Equal(t, "WAVE", string(got[8:12]))
	require.Equal(t, uint32(22050), binary.LittleEndian.Uint32(got[24:28]))
	require.Equal(t, pcm, got[44:])
}

func TestSynthesizeStreamCloseStopsProcess(t *testing.T) {
	a, _, _ := newFakePiper(t, "#!/bin/sh\nexec yes RIFF\n")

	stream, err := a.SynthesizeStream(context.Background(), models.SynthesisRequest{Text: "Hello", Format: "pcm"})
	require.NoError(t, err)
	<-stream.Chunks()
	require.NoError(t, stream.Close())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-stream.Chunks():
			if !ok {
				require.NoError(t, stream.Err())
				return
			}
		case <-deadline:
			t.Fatal("stream did not finish after Close")
		}
	}
}

func TestSynthesizeFailures(t *testing.T) {
	tests := []struct {
		name   string
		script string
		format string
		want   apierr.Kind
	}{
		{name: "unsupported format", script: fakePiperScript, format: "mp3", want: apierr.KindRejected},
		{name: "crash", script: "#!/bin/sh\necho 'Unable to load voice' >&2\nexit 1\n", want: apierr.KindRejected},
		{name: "garbage output", script: "#!/bin/sh\nwhile [ $# -gt 0 ]; do [ \"$1\" = --output_file ] && out=\"$2\"; shift; done\necho nope > \"$out\"\n", want: apierr.KindRejected},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a, _, _ := newFakePiper(t, tt.script)
			_, err := a.Synthesize(context.Background(), models.SynthesisRequest{Text: "Hello", Format: tt.format})
			apiErr, ok := apierr.As(err)
			require.True(t, ok, "unexpected error %v", err)
			require.Equal(t, tt.want, apiErr.Kind)
		})
	}
}

func TestSynthesizeStreamMissingBinary(t *testing.T) {
	a, err := New(Options{Command: "/nonexistent/piper", ModelPath: "/models/voice.onnx"})
	require.NoError(t, err)
	_, err = a.SynthesizeStream(context.Background(), models.SynthesisRequest{Text: "Hello"})
	apiErr, ok := apierr.As(err)
	require.True(t, ok)
	require.Equal(t, apierr.KindUnavailable, apiErr.Kind)
}

func TestStreamingHeaderIsDecodable(t *testing.T) {
	header := streamingWAVHeader(16000)
	require.Len(t, header, 44)
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(header[22:24]))
	require.Equal(t, uint16(16), binary.LittleEndian.Uint16(header[34:36]))
	require.Equal(t, uint32(32000), binary.LittleEndian.Uint32(header[28:32]))
}
