package janitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"audio-extract-service/domain/media"

	"go.uber.org/goleak"
)

type mockStaging struct {
	stale        []media.UploadRecord
	released     []string
	releaseErr   map[string]error
	abandoned    int
	abandonedErr error
}

func (m *mockStaging) Stale(time.Duration) []media.UploadRecord { return m.stale }

func (m *mockStaging) Release(_ context.Context, id, _ string) error {
	if err := m.releaseErr[id]; err != nil {
		return err
	}
	m.released = append(m.released, id)
	return nil
}

func (m *mockStaging) RemoveAbandonedWrites(time.Duration) (int, error) {
	return m.abandoned, m.abandonedErr
}

type mockEgress struct {
	removed int
	err     error
	calls   int
}

func (m *mockEgress) Sweep(context.Context) (int, error) {
	m.calls++
	return m.removed, m.err
}

// idleReleaser releases through staging unless the id is busy
type idleReleaser struct {
	staging *mockStaging
	busy    map[string]bool
}

func (r idleReleaser) ReleaseIdle(ctx context.Context, id, reason string) (bool, error) {
	if r.busy[id] {
		return false, nil
	}
	if err := r.staging.Release(ctx, id, reason); err != nil {
		return false, err
	}
	return true, nil
}

func TestSweep(t *testing.T) {
	staging := &mockStaging{
		stale: []media.UploadRecord{
			{ID: "old", StagedAt: time.Now().Add(-2 * time.Hour)},
			{ID: "busy", StagedAt: time.Now().Add(-2 * time.Hour)},
			{ID: "locked", StagedAt: time.Now().Add(-2 * time.Hour)},
		},
		releaseErr: map[string]error{"locked": errors.New("permission denied")},
		abandoned:  2,
	}
	egress := &mockEgress{removed: 3}
	j := New(staging, egress, idleReleaser{staging: staging, busy: map[string]bool{"busy": true}}, time.Hour, time.Minute)

	res := j.Sweep(context.Background())

	if len(staging.released) != 1 || staging.released[0] != "old" {
		t.Errorf("released = %v, want [old]", staging.released)
	}
	if res.StaleUploads != 1 {
		t.Errorf("StaleUploads = %d, want 1", res.StaleUploads)
	}
	if res.AbandonedWrites != 2 {
		t.Errorf("AbandonedWrites = %d, want 2", res.AbandonedWrites)
	}
	if res.ExpiredArtifacts != 3 {
		t.Errorf("ExpiredArtifacts = %d, want 3", res.ExpiredArtifacts)
	}
	if res.Removed() != 6 {
		t.Errorf("Removed() = %d, want 6", res.Removed())
	}
	if len(res.Errors) != 1 {
		t.Errorf("Errors = %v, want one", res.Errors)
	}
}

func TestSweep_CollectsErrors(t *testing.T) {
	staging := &mockStaging{abandonedErr: errors.New("readdir failed")}
	egress := &mockEgress{err: errors.New("egress gone")}
	j := New(staging, egress, nil, time.Hour, time.Minute)

	res := j.Sweep(context.Background())

	if len(res.Errors) != 2 {
		t.Errorf("Errors = %v, want two", res.Errors)
	}
	if egress.calls != 1 {
		t.Errorf("egress swept %d times, want 1", egress.calls)
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	egress := &mockEgress{}
	j := New(&mockStaging{}, egress, nil, time.Hour, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if egress.calls == 0 {
		t.Error("Run() never swept")
	}
}

func TestSweep_WithoutReleaserUsesStaging(t *testing.T) {
	staging := &mockStaging{stale: []media.UploadRecord{{ID: "old", StagedAt: time.Now().Add(-2 * time.Hour)}}}
	j := New(staging, &mockEgress{}, nil, time.Hour, time.Minute)

	res := j.Sweep(context.Background())

	if res.StaleUploads != 1 || len(staging.released) != 1 {
		t.Errorf("StaleUploads = %d, released = %v, want one", res.StaleUploads, staging.released)
	}
}
