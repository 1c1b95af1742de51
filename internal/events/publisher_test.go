package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/voice_gateway/internal/apierr"
	"github.com/ncecere/voice_gateway/internal/config"
	"github.com/ncecere/voice_gateway/internal/pipeline"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: server.RANDOM_PORT, NoLog: true, NoSigs: true})
	require.NoError(t, err)
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns
}

func TestConnectDisabled(t *testing.T) {
	pub, err := Connect(config.EventsConfig{}, nil)
	require.NoError(t, err)
	require.Nil(t, pub)
	require.False(t, pub.Healthy())

	// a nil publisher is a valid no-op observer
	run := &pipeline.Run{ID: "job-1", Kind: pipeline.KindGenerate}
	pub.RunStarted(context.Background(), run)
	pub.RunFinished(context.Background(), run)
	pub.Close()
}

func TestConnectUnreachable(t *testing.T) {
	_, err := Connect(config.EventsConfig{NATSURL: "nats://127.0.0.1:1", ConnectTimeout: 200 * time.Millisecond}, nil)
	require.Error(t, err)
}

func TestPublisherEmitsLifecycle(t *testing.T) {
	ns := startServer(t)

	sub, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	msgs := make(chan *nats.Msg, 8)
	_, err = sub.ChanSubscribe("voice.runs.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := Connect(config.EventsConfig{NATSURL: ns.ClientURL(), SubjectPrefix: "voice.runs."}, nil)
	require.NoError(t, err)
	t.Cleanup(pub.Close)
	require.True(t, pub.Healthy())

	ctx := context.Background()
	run := &pipeline.Run{ID: "job-42", Kind: pipeline.KindProcess, Status: pipeline.StatusReceived, CreatedAt: time.Now()}
	pub.RunStarted(ctx, run)
	pub.StageFinished(ctx, run, pipeline.StageEvent{
		Stage:    pipeline.StageTranscribe,
		Backend:  "whispercpp",
		Duration: 1500 * time.Millisecond,
	})
	run.Status = pipeline.StatusFailed
	run.FailedStage = pipeline.StageGenerate
	run.Err = apierr.Timeout("ollama", context.DeadlineExceeded).WithStage("generate")
	pub.RunFinished(ctx, run)
	require.NoError(t, pub.conn.Flush())

	var got []Event
	subjects := []string{}
	for len(got) < 3 {
		select {
		case msg := <-msgs:
			var ev Event
			require.NoError(t, json.Unmarshal(msg.Data, &ev))
			got = append(got, ev)
			subjects = append(subjects, msg.Subject)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 3 events", len(got))
		}
	}

	require.Equal(t, []string{"voice.runs.started", "voice.runs.stage", "voice.runs.finished"}, subjects)
	require.Equal(t, "job-42", got[0].JobID)
	require.Equal(t, "received", got[0].Status)
	require.Equal(t, "transcribe", got[1].Stage)
	require.Equal(t, "whispercpp", got[1].Backend)
	require.Equal(t, int64(1500), got[1].DurationMS)
	require.Equal(t, "failed", got[2].Status)
	require.Equal(t, "generate", got[2].Stage)
	require.Equal(t, string(apierr.KindTimeout), got[2].ErrorKind)
}
