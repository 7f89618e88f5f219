package e2e_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	libopus "gopkg.in/hraban/opus.v2"

	"github.com/glizzus/opusify/e2e"
	"github.com/glizzus/opusify/internal/audio"
	"github.com/glizzus/opusify/internal/config"
	"github.com/glizzus/opusify/internal/datalayer"
	"github.com/glizzus/opusify/internal/generator"
	"github.com/glizzus/opusify/internal/metrics"
	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/opus"
	"github.com/glizzus/opusify/internal/pipeline"
	"github.com/glizzus/opusify/internal/probe"
	"github.com/glizzus/opusify/internal/repository"
	"github.com/glizzus/opusify/internal/worker"
)

type harness struct {
	jobs    *repository.PostgresTranscodeJobRepository
	storage *datalayer.MinioStorage
	queue   *worker.RedisJobQueue
	worker  *worker.Worker
	keys    generator.JobKeyGenerator
}

func newHarness(t *testing.T, stream string) *harness {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	ctx := t.Context()

	jobs := repository.NewPostgresTranscodeJobRepository(e2e.GetPool(t, e2e.UsePostgres(t)))
	e2e.SeedGlobalNoise(t, jobs)

	minioCfg := e2e.UseMinio(t)
	storage, err := datalayer.NewMinioStorage(&minioCfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to ensure bucket: %v", err)
	}

	queue, err := worker.NewRedisJobQueue(ctx, e2e.GetRedis(t, e2e.UseRedis(t)), stream, "e2e", "worker-1")
	if err != nil {
		t.Fatal(err)
	}
	queue.Block = 200 * time.Millisecond

	windowCfg := config.WindowConfig{PaddingFrames: 8, MiddleFrames: 96, FrameSize: 480, Workers: 4, QueueDepth: 8}
	p, err := pipeline.New(pipeline.Options{
		Window:     windowCfg.Window(),
		Factory:    opus.Factory(opus.Options{}),
		Workers:    windowCfg.Workers,
		QueueDepth: windowCfg.QueueDepth,
		Mux:        oggopus.Options{Serial: oggopus.DefaultSerial, Vendor: "opusify"},
		Metrics:    metrics.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	return &harness{
		jobs:    jobs,
		storage: storage,
		queue:   queue,
		worker: &worker.Worker{
			Queue: queue,
			Processor: &worker.Processor{
				Jobs:     jobs,
				Storage:  storage,
				Pipeline: p,
				Open:     worker.RawOpener(2, 24000),
			},
		},
		keys: generator.JobKeyGenerator{Prefix: stream},
	}
}

// submit does what `opusify submit` does: upload, record, enqueue.
func (h *harness) submit(t *testing.T, source []byte) generator.JobKeys {
	t.Helper()
	ctx := t.Context()
	k, err := h.keys.Next()
	if err != nil {
		t.Fatal(err)
	}
	if source != nil {
		if err := h.storage.Put(ctx, k.SourceKey, bytes.NewReader(source), datalayer.PutOptions{Size: int64(len(source))}); err != nil {
			t.Fatalf("failed to upload source: %v", err)
		}
	}
	if err := h.jobs.Create(ctx, repository.TranscodeJob{ID: k.ID, SourceKey: k.SourceKey, OutputKey: k.OutputKey}); err != nil {
		t.Fatal(err)
	}
	if err := h.queue.Enqueue(ctx, worker.TranscodeRequest{JobID: k.ID, SourceKey: k.SourceKey, OutputKey: k.OutputKey}); err != nil {
		t.Fatal(err)
	}
	return k
}

// drain polls until n requests have been processed.
func (h *harness) drain(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Minute)
	for n > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("%d requests were never processed", n)
		}
		done, err := h.worker.Poll(t.Context())
		if err != nil {
			t.Fatalf("Poll returned error: %v", err)
		}
		n -= done
	}
}

func rawTone(d time.Duration) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, audio.Tone(440, 0.3, d, 2, 24000))
	return b.Bytes()
}

func TestSubmittedJobIsTranscoded(t *testing.T) {
	h := newHarness(t, "transcode_ok")
	k := h.submit(t, rawTone(2*time.Second))
	h.drain(t, 1)

	job, err := h.jobs.Get(t.Context(), k.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != repository.StatusCompleted {
		t.Fatalf("expected a completed job, got %s: %s", job.Status, job.Error)
	}

	obj, err := h.storage.Get(t.Context(), k.OutputKey)
	if err != nil {
		t.Fatalf("output was not stored: %v", err)
	}
	defer obj.Close()
	out, err := io.ReadAll(obj)
	if err != nil {
		t.Fatal(err)
	}

	rep, err := probe.Inspect(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not valid Ogg/Opus: %v", err)
	}
	if rep.Head.Channels != 2 || !rep.Ended {
		t.Errorf("unexpected output %+v", rep)
	}
	if rep.Packets != job.Result.Packets || rep.Bytes != job.Result.Bytes {
		t.Errorf("job result %+v does not describe the stored file", job.Result)
	}

	stream, err := libopus.NewStream(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("libopusfile rejected the output: %v", err)
	}
	defer stream.Close()
	pcm := make([]int16, 5760*2)
	frames := 0
	for {
		n, err := stream.Read(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		frames += n
	}
	// Resampling may trim the filter tail, so allow 50 ms of slack.
	if frames < 2*48000-2400 {
		t.Errorf("decoded %d frames, expected about 2 seconds", frames)
	}
}

func TestMissingSourceFailsJob(t *testing.T) {
	h := newHarness(t, "transcode_missing")
	k := h.submit(t, nil)
	h.drain(t, 1)

	job, err := h.jobs.Get(t.Context(), k.ID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != repository.StatusFailed || job.Error == "" {
		t.Errorf("expected a failed job with a reason, got %+v", job)
	}
	if _, err := h.storage.Get(t.Context(), k.OutputKey); !errors.Is(err, datalayer.ErrObjectNotFound) {
		t.Errorf("expected no output object, got %v", err)
	}
}
