package transcode

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"audio-extract-service/application/egress"
	"audio-extract-service/application/ingress"
	"audio-extract-service/domain/media"
	"audio-extract-service/infrastructure/filesystem"
	"audio-extract-service/infrastructure/memory"

	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTranscoder is a scripted engine for tests
type fakeTranscoder struct {
	calls   atomic.Int32
	started chan struct{}
	unblock chan struct{}
	output  string
	partial bool
	err     error
}

func (f *fakeTranscoder) Transcode(ctx context.Context, req media.TranscodeRequest, observer media.TranscodeObserver) error {
	f.calls.Add(1)
	observer.Started("ffmpeg -i " + req.InputPath + " " + req.OutputPath)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.unblock != nil {
		select {
		case <-f.unblock:
		case <-ctx.Done():
			return media.NewError(media.KindConversionFailed, "transcode", "conversion timed out", ctx.Err())
		}
	}
	observer.Progress(50)
	if f.err != nil {
		if f.partial {
			_ = os.WriteFile(req.OutputPath, []byte("half"), 0o644)
		}
		return f.err
	}
	observer.Progress(100)
	return os.WriteFile(req.OutputPath, []byte(f.output), 0o644)
}

type harness struct {
	ingress  *ingress.Service
	egress   *egress.Service
	staging  *filesystem.Dir
	outputs  *filesystem.Dir
	engine   *fakeTranscoder
	orch     *Orchestrator
	uploadID string
}

func newHarness(t *testing.T, engine *fakeTranscoder, opts ...Option) *harness {
	t.Helper()
	staging, err := filesystem.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	outputs, err := filesystem.NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	in := ingress.NewService(staging, memory.NewUploadIndex())
	out := egress.NewService(outputs, memory.NewArtifactIndex())
	t.Cleanup(out.Close)

	rec, err := in.Stage(context.Background(), strings.NewReader("fake video"), "My Video.mp4", 10)
	if err != nil {
		t.Fatalf("Stage() unexpected error: %v", err)
	}

	return &harness{
		ingress:  in,
		egress:   out,
		staging:  staging,
		outputs:  outputs,
		engine:   engine,
		orch:     NewOrchestrator(in, out, engine, opts...),
		uploadID: rec.ID,
	}
}

func (h *harness) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, _ := os.ReadDir(h.staging.Root())
	if len(entries) != 0 {
		t.Errorf("staging directory has %d files, want 0", len(entries))
	}
	if _, err := h.ingress.Lookup(h.uploadID); !errors.Is(err, media.ErrNotFound) {
		t.Errorf("Lookup() after conversion error = %v, want NotFound", err)
	}
}

func (h *harness) assertOutputsEmpty(t *testing.T) {
	t.Helper()
	entries, _ := os.ReadDir(h.outputs.Root())
	if len(entries) != 0 {
		t.Errorf("egress directory has %d files, want 0", len(entries))
	}
}

func TestConvert_Success(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{output: "ID3 audio"})

	art, err := h.orch.Convert(context.Background(), h.uploadID, "My Video.mp4")
	if err != nil {
		t.Fatalf("Convert() unexpected error: %v", err)
	}

	if art.Filename != h.uploadID+".mp3" {
		t.Errorf("Filename = %q, want %q", art.Filename, h.uploadID+".mp3")
	}
	if art.DisplayName != "My Video.mp3" {
		t.Errorf("DisplayName = %q, want My Video.mp3", art.DisplayName)
	}
	if art.Size != int64(len("ID3 audio")) {
		t.Errorf("Size = %d", art.Size)
	}
	if !h.outputs.Exists(art.Filename) {
		t.Error("artifact missing from egress directory")
	}
	h.assertStagingEmpty(t)
	if h.orch.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", h.orch.ActiveCount())
	}
}

func TestConvert_EmptyHintUsesDefaultName(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{output: "x"})

	art, err := h.orch.Convert(context.Background(), h.uploadID, "")
	if err != nil {
		t.Fatalf("Convert() unexpected error: %v", err)
	}
	if art.DisplayName != "audio.mp3" {
		t.Errorf("DisplayName = %q, want audio.mp3", art.DisplayName)
	}
}

func TestConvert_UnknownID(t *testing.T) {
	engine := &fakeTranscoder{output: "x"}
	h := newHarness(t, engine)

	_, err := h.orch.Convert(context.Background(), "does-not-exist", "x.mp4")
	if !errors.Is(err, media.ErrNotFound) {
		t.Fatalf("Convert() error = %v, want NotFound", err)
	}
	if engine.calls.Load() != 0 {
		t.Errorf("engine called %d times, want 0", engine.calls.Load())
	}
	if _, err := h.ingress.Lookup(h.uploadID); err != nil {
		t.Errorf("unrelated upload was touched: %v", err)
	}
}

func TestConvert_Failure(t *testing.T) {
	tests := []struct {
		name       string
		engineErr  error
		wantDetail string
	}{
		{
			name:       "engine diagnostic",
			engineErr:  media.NewError(media.KindConversionFailed, "transcode", "Invalid data found when processing input", nil),
			wantDetail: "Invalid data found when processing input",
		},
		{
			name:       "plain error is wrapped",
			engineErr:  errors.New("exit status 1"),
			wantDetail: "exit status 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, &fakeTranscoder{err: tt.engineErr, partial: true})

			_, err := h.orch.Convert(context.Background(), h.uploadID, "clip.mp4")
			if !errors.Is(err, media.ErrConversionFailed) {
				t.Fatalf("Convert() error = %v, want ConversionFailed", err)
			}
			if got := media.DetailOf(err); !strings.Contains(got, tt.wantDetail) {
				t.Errorf("DetailOf() = %q, want it to contain %q", got, tt.wantDetail)
			}
			h.assertStagingEmpty(t)
			h.assertOutputsEmpty(t)

			_, err = h.orch.Convert(context.Background(), h.uploadID, "clip.mp4")
			if !errors.Is(err, media.ErrNotFound) {
				t.Errorf("retry Convert() error = %v, want NotFound", err)
			}
		})
	}
}

func TestConvert_ConcurrentCallersShareOneRun(t *testing.T) {
	engine := &fakeTranscoder{
		output:  "ID3",
		started: make(chan struct{}, 1),
		unblock: make(chan struct{}),
	}
	h := newHarness(t, engine)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]media.ArtifactRecord, callers)
	errs := make([]error, callers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = h.orch.Convert(context.Background(), h.uploadID, "first.mp4")
	}()
	<-engine.started

	if !h.orch.Active(h.uploadID) {
		t.Error("Active() = false while engine is running")
	}
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.orch.Convert(context.Background(), h.uploadID, "other.mp4")
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(engine.unblock)
	wg.Wait()

	if n := engine.calls.Load(); n != 1 {
		t.Errorf("engine called %d times, want 1", n)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v", i, errs[i])
			continue
		}
		if results[i].Filename != results[0].Filename || results[i].DisplayName != "first.mp3" {
			t.Errorf("caller %d got %+v, want shared result %+v", i, results[i], results[0])
		}
	}
}

func TestConvert_CallerCancelDoesNotAbandonJob(t *testing.T) {
	engine := &fakeTranscoder{
		output:  "ID3",
		started: make(chan struct{}, 1),
		unblock: make(chan struct{}),
	}
	h := newHarness(t, engine)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Convert(ctx, h.uploadID, "clip.mp4")
		errc <- err
	}()
	<-engine.started
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("Convert() error = %v, want context.Canceled", err)
	}

	close(engine.unblock)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	if err := h.orch.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}

	h.assertStagingEmpty(t)
	if !h.outputs.Exists(media.ArtifactFilename(h.uploadID)) {
		t.Error("detached job did not publish its artifact")
	}
}

func TestConvert_Timeout(t *testing.T) {
	engine := &fakeTranscoder{unblock: make(chan struct{})}
	h := newHarness(t, engine, WithTimeout(20*time.Millisecond))
	defer close(engine.unblock)

	_, err := h.orch.Convert(context.Background(), h.uploadID, "clip.mp4")
	if !errors.Is(err, media.ErrConversionFailed) {
		t.Fatalf("Convert() error = %v, want ConversionFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Convert() error = %v, want it to wrap DeadlineExceeded", err)
	}
	h.assertStagingEmpty(t)
	h.assertOutputsEmpty(t)
}

func TestLogObserver_ThrottlesProgress(t *testing.T) {
	obs := newLogObserver(zerolog.Nop())
	for _, p := range []float64{0, 3, 9, 10, 12, 25, 100} {
		obs.Progress(p)
	}
	if obs.next != 110 {
		t.Errorf("next = %v, want 110", obs.next)
	}
}

func TestReleaseIdle(t *testing.T) {
	engine := &fakeTranscoder{
		output:  "ID3",
		started: make(chan struct{}, 1),
		unblock: make(chan struct{}),
	}
	h := newHarness(t, engine)

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Convert(context.Background(), h.uploadID, "clip.mp4")
		errc <- err
	}()
	<-engine.started

	released, err := h.orch.ReleaseIdle(context.Background(), h.uploadID, "stale")
	if err != nil {
		t.Fatalf("ReleaseIdle() unexpected error: %v", err)
	}
	if released {
		t.Error("ReleaseIdle() released the input of a running conversion")
	}
	if _, err := h.ingress.Lookup(h.uploadID); err != nil {
		t.Errorf("Lookup() during conversion error = %v", err)
	}

	close(engine.unblock)
	if err := <-errc; err != nil {
		t.Fatalf("Convert() unexpected error: %v", err)
	}
}

func TestReleaseIdle_IdleUploadIsReleased(t *testing.T) {
	h := newHarness(t, &fakeTranscoder{output: "ID3"})

	released, err := h.orch.ReleaseIdle(context.Background(), h.uploadID, "stale")
	if err != nil {
		t.Fatalf("ReleaseIdle() unexpected error: %v", err)
	}
	if !released {
		t.Error("ReleaseIdle() = false for an idle upload")
	}
	h.assertStagingEmpty(t)

	if _, err := h.orch.Convert(context.Background(), h.uploadID, "clip.mp4"); !errors.Is(err, media.ErrNotFound) {
		t.Errorf("Convert() after release error = %v, want NotFound", err)
	}
}

func TestWait_BlocksWhileConversionRuns(t *testing.T) {
	engine := &fakeTranscoder{
		output:  "ID3",
		started: make(chan struct{}, 1),
		unblock: make(chan struct{}),
	}
	h := newHarness(t, engine)

	if err := h.orch.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() with nothing running unexpected error: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := h.orch.Convert(context.Background(), h.uploadID, "clip.mp4")
		errc <- err
	}()
	<-engine.started

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.orch.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() while running error = %v, want DeadlineExceeded", err)
	}

	close(engine.unblock)
	if err := <-errc; err != nil {
		t.Fatalf("Convert() unexpected error: %v", err)
	}
	if err := h.orch.Wait(context.Background()); err != nil {
		t.Errorf("Wait() after conversion unexpected error: %v", err)
	}
}
