package delivery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meterrelay/internal/model"
	"meterrelay/internal/repository/memory"
)

type fakeTransport struct {
	mu        sync.Mutex
	checkErr  error
	failures  int // Copy fails this many times before succeeding
	copyErr   error
	verifyErr error
	checks    int
	copies    []string
	verifies  int
	times     []time.Time
	onCopy    func(path string)
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Check(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	return f.checkErr
}

func (f *fakeTransport) Copy(_ context.Context, path, dest string) error {
	if f.onCopy != nil {
		f.onCopy(path)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, path)
	f.times = append(f.times, time.Now())
	if f.copyErr != nil {
		return f.copyErr
	}
	if len(f.copies) <= f.failures {
		return model.NewFault(model.ErrTransport, "copy", errors.New("connection reset"))
	}
	return nil
}

func (f *fakeTransport) Verify(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	return f.verifyErr
}

func tempImage(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte("jpeg"), 0644))
	return p
}

func fastOptions() Options {
	return Options{RetryDelays: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, MaxRequeues: 2}
}

func TestDeliver_FirstAttempt(t *testing.T) {
	tr := &fakeTransport{}
	a := NewAgent(tr, fastOptions(), nil, nil, nil)

	ok := a.Deliver(context.Background(), tempImage(t, "a.jpg"), "folder")
	assert.True(t, ok)
	assert.Len(t, tr.copies, 1)
	assert.Equal(t, 0, tr.verifies, "verification is off by default")
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	tr := &fakeTransport{failures: 2}
	a := NewAgent(tr, fastOptions(), nil, nil, nil)

	assert.True(t, a.Deliver(context.Background(), tempImage(t, "a.jpg"), "folder"))
	assert.Len(t, tr.copies, 3)
}

func TestDeliver_ExactlyThreeAttempts(t *testing.T) {
	tr := &fakeTransport{failures: 100}
	opts := Options{RetryDelays: []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, time.Hour}}
	a := NewAgent(tr, opts, nil, nil, nil)

	start := time.Now()
	assert.False(t, a.Deliver(context.Background(), tempImage(t, "a.jpg"), "folder"))
	require.Len(t, tr.copies, Attempts)

	// pauses follow the per-attempt delays, and none after the last attempt
	assert.GreaterOrEqual(t, tr.times[1].Sub(tr.times[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, tr.times[2].Sub(tr.times[1]), 40*time.Millisecond)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestDeliver_PreflightFailsFast(t *testing.T) {
	tr := &fakeTransport{checkErr: model.NewFault(model.ErrConfiguration, "check", errors.New("no remote"))}
	a := NewAgent(tr, fastOptions(), nil, nil, nil)
	path := tempImage(t, "a.jpg")

	assert.False(t, a.Deliver(context.Background(), path, "folder"))
	assert.False(t, a.Deliver(context.Background(), path, "folder"))
	assert.Empty(t, tr.copies, "no transfer may be attempted when unconfigured")
	assert.Equal(t, 1, tr.checks, "preflight runs once")
}

func TestDeliver_ConfigurationErrorNotRetried(t *testing.T) {
	tr := &fakeTransport{copyErr: model.NewFault(model.ErrConfiguration, "copy", errors.New("bad remote"))}
	a := NewAgent(tr, fastOptions(), nil, nil, nil)

	assert.False(t, a.Deliver(context.Background(), tempImage(t, "a.jpg"), "folder"))
	assert.Len(t, tr.copies, 1)
}

func TestDeliver_MissingFileOrDestination(t *testing.T) {
	tr := &fakeTransport{}
	a := NewAgent(tr, fastOptions(), nil, nil, nil)

	assert.False(t, a.Deliver(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"), "folder"))
	assert.False(t, a.Deliver(context.Background(), tempImage(t, "a.jpg"), ""))
	assert.Empty(t, tr.copies)
}

func TestDeliver_VerifyVariant(t *testing.T) {
	tr := &fakeTransport{verifyErr: errNotVerified}
	opts := fastOptions()
	opts.Verify = true
	a := NewAgent(tr, opts, nil, nil, nil)

	assert.False(t, a.Deliver(context.Background(), tempImage(t, "a.jpg"), "folder"))
	assert.Equal(t, Attempts, tr.verifies)
}

func TestDeliver_CancelledDuringPause(t *testing.T) {
	tr := &fakeTransport{failures: 100}
	a := NewAgent(tr, Options{RetryDelays: []time.Duration{time.Hour, time.Hour, time.Hour}}, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.False(t, a.Deliver(ctx, tempImage(t, "a.jpg"), "folder"))
	assert.Len(t, tr.copies, 1)
}

func TestEnqueue_BoundedBacklog(t *testing.T) {
	backlog := memory.NewBacklog(3)
	a := NewAgent(&fakeTransport{}, fastOptions(), backlog, nil, nil)

	for i := 0; i < 8; i++ {
		a.Enqueue(filepath.Join("/captures", string(rune('a'+i))+".jpg"), false, 0)
		assert.LessOrEqual(t, a.BacklogLen(), 3)
	}
	assert.Equal(t, 3, a.BacklogLen())
	assert.Equal(t, []string{"/captures/f.jpg", "/captures/g.jpg", "/captures/h.jpg"}, a.BacklogPaths())
}

func TestDrainBacklog(t *testing.T) {
	backlog := memory.NewBacklog(10)
	tr := &fakeTransport{}
	a := NewAgent(tr, fastOptions(), backlog, nil, nil)

	present := tempImage(t, "present.jpg")
	a.Enqueue(present, true, 0)
	a.Enqueue(filepath.Join(t.TempDir(), "vanished.jpg"), false, 0)

	report := a.DrainBacklog(context.Background(), "folder")
	assert.Equal(t, []string{present}, report.Delivered)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 0, a.BacklogLen())
}

func TestDrainBacklog_RequeueCap(t *testing.T) {
	backlog := memory.NewBacklog(10)
	tr := &fakeTransport{failures: 1000}
	a := NewAgent(tr, Options{MaxRequeues: 2}, backlog, nil, nil)
	path := tempImage(t, "a.jpg")
	a.Enqueue(path, false, 0)

	for pass := 1; pass <= 2; pass++ {
		report := a.DrainBacklog(context.Background(), "folder")
		assert.Equal(t, 1, report.Requeued, "pass %d", pass)
		entries, _ := backlog.Snapshot()
		require.Len(t, entries, 1)
		assert.Equal(t, pass, entries[0].RetryCount)
	}

	report := a.DrainBacklog(context.Background(), "folder")
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, 0, a.BacklogLen())
	assert.Len(t, tr.copies, 3*Attempts)
}

func TestDrainBacklog_FIFOOrder(t *testing.T) {
	backlog := memory.NewBacklog(10)
	tr := &fakeTransport{}
	a := NewAgent(tr, fastOptions(), backlog, nil, nil)

	first := tempImage(t, "1.jpg")
	second := tempImage(t, "2.jpg")
	third := tempImage(t, "3.jpg")
	a.Enqueue(first, false, 0)
	a.Enqueue(second, false, 0)
	a.Enqueue(third, false, 0)

	a.DrainBacklog(context.Background(), "folder")
	assert.Equal(t, []string{first, second, third}, tr.copies)
}

func TestDrainBacklog_SkippedWhenUnconfigured(t *testing.T) {
	backlog := memory.NewBacklog(10)
	tr := &fakeTransport{checkErr: model.NewFault(model.ErrConfiguration, "check", nil)}
	a := NewAgent(tr, fastOptions(), backlog, nil, nil)
	a.Enqueue(tempImage(t, "a.jpg"), false, 0)

	report := a.DrainBacklog(context.Background(), "folder")
	assert.True(t, report.Skipped)
	assert.Equal(t, 1, a.BacklogLen(), "entries stay queued")
}

func TestDrainBacklog_FailureKeepsPositionAndCreatedAt(t *testing.T) {
	backlog := memory.NewBacklog(10)
	tr := &fakeTransport{failures: Attempts}
	a := NewAgent(tr, fastOptions(), backlog, nil, nil)

	first := tempImage(t, "1.jpg")
	second := tempImage(t, "2.jpg")
	a.Enqueue(first, false, 0)
	a.Enqueue(second, false, 0)
	before, _ := backlog.Snapshot()

	report := a.DrainBacklog(context.Background(), "folder")
	assert.Equal(t, 1, report.Requeued)
	assert.Equal(t, []string{second}, report.Delivered)

	after, _ := backlog.Snapshot()
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, first, after[0].Path)
	assert.Equal(t, 1, after[0].RetryCount)
	assert.True(t, before[0].CreatedAt.Equal(after[0].CreatedAt))
}

func TestDrainBacklog_CancelledLeavesUntriedEntries(t *testing.T) {
	backlog := memory.NewBacklog(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &fakeTransport{failures: 1000}
	tr.onCopy = func(string) { cancel() }
	a := NewAgent(tr, fastOptions(), backlog, nil, nil)

	paths := []string{tempImage(t, "1.jpg"), tempImage(t, "2.jpg"), tempImage(t, "3.jpg")}
	for i, p := range paths {
		a.Enqueue(p, i == 0, i)
	}
	before, _ := backlog.Snapshot()

	report := a.DrainBacklog(ctx, "folder")
	assert.Equal(t, 1, report.Attempted)
	assert.Zero(t, report.Requeued)
	assert.Zero(t, report.Dropped)
	assert.Len(t, tr.copies, 1, "no attempt after cancellation")

	after, _ := backlog.Snapshot()
	assert.Equal(t, before, after, "queue unchanged, including retry counts and creation times")
}
