package worker_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/glizzus/opusify/internal/audio"
	"github.com/glizzus/opusify/internal/datalayer"
	"github.com/glizzus/opusify/internal/encode/encodetest"
	"github.com/glizzus/opusify/internal/oggopus"
	"github.com/glizzus/opusify/internal/pipeline"
	"github.com/glizzus/opusify/internal/probe"
	"github.com/glizzus/opusify/internal/repository"
	"github.com/glizzus/opusify/internal/window"
	"github.com/glizzus/opusify/internal/worker"
)

func rawPCM(samples []int16) []byte {
	var b bytes.Buffer
	_ = binary.Write(&b, binary.LittleEndian, samples)
	return b.Bytes()
}

type fixture struct {
	jobs      *repository.MemoryTranscodeJobRepository
	storage   *datalayer.MemoryStorage
	processor *worker.Processor
	fake      *encodetest.Fake
}

func newFixture(t *testing.T, fake *encodetest.Fake) *fixture {
	t.Helper()
	p, err := pipeline.New(pipeline.Options{
		Window: window.Config{
			LeftPaddingFrames:  2,
			MiddleFrames:       10,
			RightPaddingFrames: 2,
			FrameSize:          480,
		},
		Factory:    fake.Factory(),
		Workers:    2,
		QueueDepth: 4,
		Mux:        oggopus.Options{Serial: oggopus.DefaultSerial, Vendor: "opusify"},
	})
	if err != nil {
		t.Fatal(err)
	}
	f := &fixture{
		jobs:    repository.NewMemoryTranscodeJobRepository(),
		storage: datalayer.NewMemoryStorage(),
		fake:    fake,
	}
	f.processor = &worker.Processor{
		Jobs:     f.jobs,
		Storage:  f.storage,
		Pipeline: p,
		Open:     worker.RawOpener(1, 48000),
	}
	return f
}

// submit stores source under the job's source key and creates the job.
func (f *fixture) submit(t *testing.T, id string, source []byte) worker.TranscodeRequest {
	t.Helper()
	req := worker.TranscodeRequest{JobID: id, SourceKey: "sources/" + id, OutputKey: "outputs/" + id + ".opus"}
	if source != nil {
		if err := f.storage.Put(t.Context(), req.SourceKey, bytes.NewReader(source), datalayer.PutOptions{Size: int64(len(source))}); err != nil {
			t.Fatal(err)
		}
	}
	if err := f.jobs.Create(t.Context(), repository.TranscodeJob{ID: id, SourceKey: req.SourceKey, OutputKey: req.OutputKey}); err != nil {
		t.Fatal(err)
	}
	return req
}

func TestProcessorCompletesJob(t *testing.T) {
	f := newFixture(t, &encodetest.Fake{LookaheadSamples: 312})
	req := f.submit(t, "job-1", rawPCM(audio.Silence(time.Second, 1, 48000)))

	if err := f.processor.Process(t.Context(), req); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	job, err := f.jobs.Get(t.Context(), req.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != repository.StatusCompleted {
		t.Fatalf("expected a completed job, got %+v", job)
	}

	obj, err := f.storage.Get(t.Context(), req.OutputKey)
	if err != nil {
		t.Fatalf("output was not stored: %v", err)
	}
	out, err := io.ReadAll(obj)
	if err != nil {
		t.Fatal(err)
	}
	rep, err := probe.Inspect(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("stored output is not Ogg/Opus: %v", err)
	}
	if !rep.Ended || rep.Packets != job.Result.Packets || rep.Bytes != job.Result.Bytes {
		t.Errorf("job result %+v does not match the stored file %+v", job.Result, rep)
	}
	// 100 frames of input pad out to whole windows of 10 middle frames.
	if job.Result.Duration < time.Second {
		t.Errorf("expected at least a second of audio, got %v", job.Result.Duration)
	}
	if f.fake.Created() != f.fake.Closed() {
		t.Errorf("leaked encoders: created %d closed %d", f.fake.Created(), f.fake.Closed())
	}
}

func TestProcessorRecordsFailures(t *testing.T) {
	failOn := int16(1)
	tc := []struct {
		name    string
		source  []byte
		fake    *encodetest.Fake
		wantErr error
	}{
		{
			name:    "missing source object",
			fake:    &encodetest.Fake{},
			wantErr: datalayer.ErrObjectNotFound,
		},
		{
			name:    "empty source",
			source:  []byte{},
			fake:    &encodetest.Fake{},
			wantErr: audio.ErrNoAudio,
		},
		{
			name: "encoder failure",
			source: func() []byte {
				s := audio.Silence(time.Second, 1, 48000)
				s[480*30] = failOn
				return rawPCM(s)
			}(),
			fake:    &encodetest.Fake{FailOnSample: &failOn},
			wantErr: encodetest.ErrInjected,
		},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			f := newFixture(t, test.fake)
			req := f.submit(t, "job-1", test.source)

			err := f.processor.Process(t.Context(), req)
			if !errors.Is(err, test.wantErr) {
				t.Fatalf("expected %v, got %v", test.wantErr, err)
			}

			job, err := f.jobs.Get(t.Context(), req.JobID)
			if err != nil {
				t.Fatal(err)
			}
			if job.Status != repository.StatusFailed || job.Error == "" {
				t.Errorf("expected a failed job with a reason, got %+v", job)
			}
			if _, err := f.storage.Get(t.Context(), req.OutputKey); !errors.Is(err, datalayer.ErrObjectNotFound) {
				t.Errorf("a failed job must not leave an output object, got %v", err)
			}
		})
	}
}

func TestProcessorSkipsClaimedJobs(t *testing.T) {
	f := newFixture(t, &encodetest.Fake{})
	req := f.submit(t, "job-1", rawPCM(audio.Silence(time.Second, 1, 48000)))
	if err := f.jobs.MarkProcessing(t.Context(), req.JobID); err != nil {
		t.Fatal(err)
	}

	if err := f.processor.Process(t.Context(), req); !errors.Is(err, repository.ErrJobState) {
		t.Fatalf("expected ErrJobState, got %v", err)
	}
	if f.fake.Created() != 0 {
		t.Errorf("a claimed job must not be encoded again")
	}
	if job, _ := f.jobs.Get(t.Context(), req.JobID); job.Status != repository.StatusProcessing {
		t.Errorf("job state changed to %s", job.Status)
	}
}

type failingStorage struct {
	*datalayer.MemoryStorage
}

func (s failingStorage) Put(ctx context.Context, key string, data io.Reader, opts datalayer.PutOptions) error {
	buf := make([]byte, 100)
	if _, err := io.ReadFull(data, buf); err != nil {
		return err
	}
	return errors.New("bucket quota exceeded")
}

func TestProcessorUploadFailure(t *testing.T) {
	f := newFixture(t, &encodetest.Fake{})
	req := f.submit(t, "job-1", rawPCM(audio.Silence(3*time.Second, 1, 48000)))
	f.processor.Storage = failingStorage{f.storage}

	err := f.processor.Process(t.Context(), req)
	if err == nil || !strings.Contains(err.Error(), "quota") {
		t.Fatalf("expected the upload error, got %v", err)
	}
	if job, _ := f.jobs.Get(t.Context(), req.JobID); job.Status != repository.StatusFailed {
		t.Errorf("expected a failed job, got %s", job.Status)
	}
	if f.fake.Created() != f.fake.Closed() {
		t.Errorf("leaked encoders: created %d closed %d", f.fake.Created(), f.fake.Closed())
	}
}
