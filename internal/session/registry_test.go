package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/encodedeck/internal/events"
	"github.com/smazurov/encodedeck/internal/logging"
)

// mockSurface records the calls made on it.
type mockSurface struct {
	id        string
	title     string
	autoClose bool

	mu       sync.Mutex
	rendered []Worker
	stops    int
}

func (s *mockSurface) ID() string { return s.id }

func (s *mockSurface) RenderWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, w)
}

func (s *mockSurface) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
}

func (s *mockSurface) renderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rendered)
}

func (s *mockSurface) stopCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// mockFactory records every surface it creates.
type mockFactory struct {
	mu       sync.Mutex
	surfaces []*mockSurface
}

func (f *mockFactory) CreateSurface(title string, autoClose bool) Surface {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &mockSurface{id: fmt.Sprintf("surface-%d", len(f.surfaces)+1), title: title, autoClose: autoClose}
	f.surfaces = append(f.surfaces, s)
	return s
}

func (f *mockFactory) created() []*mockSurface {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*mockSurface(nil), f.surfaces...)
}

func (f *mockFactory) count(autoClose bool) int {
	n := 0
	for _, s := range f.created() {
		if s.autoClose == autoClose {
			n++
		}
	}
	return n
}

type mockWorker struct {
	opts WorkerOptions
}

func (w *mockWorker) Options() WorkerOptions { return w.opts }
func (w *mockWorker) Render(Panel)           {}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func newTestRegistry() (*Registry, *mockFactory) {
	f := &mockFactory{}
	return NewRegistry(f, WithLogger(logging.Discard())), f
}

func TestPinnedSessionScenario(t *testing.T) {
	r, f := newTestRegistry()

	if err := r.Start("job1", "Encoding batch 1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	r.Display(&mockWorker{opts: WorkerOptions{JobID: "job1"}})
	r.Display(&mockWorker{opts: WorkerOptions{JobID: "job1"}})
	r.Stop("job1")

	surfaces := f.created()
	if len(surfaces) != 1 {
		t.Fatalf("created %d surfaces, want 1", len(surfaces))
	}
	s := surfaces[0]
	if s.title != "Encoding batch 1" || s.autoClose {
		t.Errorf("surface = %q autoClose=%v, want pinned %q", s.title, s.autoClose, "Encoding batch 1")
	}
	if s.renderCount() != 2 {
		t.Errorf("render calls = %d, want 2", s.renderCount())
	}
	if s.stopCount() != 1 {
		t.Errorf("stop calls = %d, want 1", s.stopCount())
	}
	if f.count(true) != 0 {
		t.Errorf("ephemeral surfaces = %d, want 0", f.count(true))
	}
}

func TestEphemeralDisplayScenario(t *testing.T) {
	r, f := newTestRegistry()

	r.Display(&mockWorker{opts: WorkerOptions{Title: "Quick job"}})

	surfaces := f.created()
	if len(surfaces) != 1 {
		t.Fatalf("created %d surfaces, want 1", len(surfaces))
	}
	s := surfaces[0]
	if s.title != "Quick job" || !s.autoClose {
		t.Errorf("surface = %q autoClose=%v, want ephemeral %q", s.title, s.autoClose, "Quick job")
	}
	if s.renderCount() != 1 {
		t.Errorf("render calls = %d, want 1", s.renderCount())
	}
	if n := len(r.Sessions()); n != 0 {
		t.Errorf("registry has %d entries, want 0", n)
	}
}

func TestDisplayUnknownJobCreatesEphemeral(t *testing.T) {
	r, f := newTestRegistry()

	for _, j := range []JobID{"a", "b", "never-started"} {
		before := len(f.created())
		r.Display(&mockWorker{opts: WorkerOptions{JobID: j}})

		after := f.created()
		if len(after) != before+1 {
			t.Fatalf("Display(%q) created %d surfaces, want 1", j, len(after)-before)
		}
		if s := after[len(after)-1]; !s.autoClose || s.title != DefaultTitle {
			t.Errorf("Display(%q) surface = %q autoClose=%v, want ephemeral %q", j, s.title, s.autoClose, DefaultTitle)
		}
		if r.Has(j) {
			t.Errorf("Display(%q) registered the job", j)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	r, f := newTestRegistry()

	for _, title := range []string{"first", "second"} {
		if err := r.Start("job", title); err != nil {
			t.Fatalf("Start() error = %v", err)
		}
	}

	if n := len(f.created()); n != 1 {
		t.Fatalf("created %d surfaces, want 1", n)
	}
	sessions := r.Sessions()
	if len(sessions) != 1 || sessions[0].Title != "first" {
		t.Errorf("Sessions() = %+v, want one session titled first", sessions)
	}
}

func TestStartRequiresJobID(t *testing.T) {
	r, f := newTestRegistry()

	for _, title := range []string{"", "t", "Encoding batch 1"} {
		if err := r.Start("", title); !errors.Is(err, ErrInvalidJobID) {
			t.Errorf("Start(\"\", %q) error = %v, want ErrInvalidJobID", title, err)
		}
	}
	r.SetAppExited()
	if err := r.Start("", "t"); !errors.Is(err, ErrInvalidJobID) {
		t.Errorf("Start after exit error = %v, want ErrInvalidJobID", err)
	}
	if n := len(f.created()); n != 0 {
		t.Errorf("created %d surfaces, want 0", n)
	}
}

func TestAppExited(t *testing.T) {
	r, f := newTestRegistry()

	if err := r.Start("running", "Running"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	pinned := f.created()[0]

	if r.AppExited() {
		t.Fatal("AppExited() = true before SetAppExited")
	}
	r.SetAppExited()
	if !r.AppExited() {
		t.Fatal("AppExited() = false after SetAppExited")
	}

	if err := r.Start("late", "Late"); err != nil {
		t.Errorf("Start() after exit error = %v", err)
	}
	r.Display(&mockWorker{opts: WorkerOptions{JobID: "running"}})
	r.Display(&mockWorker{opts: WorkerOptions{Title: "ad hoc"}})

	if n := len(f.created()); n != 1 {
		t.Errorf("created %d surfaces after exit, want none beyond the first", n-1)
	}
	if pinned.renderCount() != 0 {
		t.Error("Display after exit rendered into an existing surface")
	}
	if r.Has("late") {
		t.Error("Start after exit registered a job")
	}

	// Stop still works
	r.Stop("running")
	if pinned.stopCount() != 1 {
		t.Errorf("stop calls = %d, want 1", pinned.stopCount())
	}
	if r.Has("running") {
		t.Error("Stop after exit left the entry")
	}
}

func TestStopThenStartCreatesNewSurface(t *testing.T) {
	r, f := newTestRegistry()

	r.Start("job", "t1")
	r.Stop("job")
	r.Start("job", "t2")

	surfaces := f.created()
	if len(surfaces) != 2 {
		t.Fatalf("created %d surfaces, want 2", len(surfaces))
	}
	if surfaces[0] == surfaces[1] {
		t.Fatal("Start after Stop reused the closed surface")
	}
	if surfaces[0].stopCount() != 1 || surfaces[1].stopCount() != 0 {
		t.Errorf("stop counts = %d, %d; want 1, 0", surfaces[0].stopCount(), surfaces[1].stopCount())
	}

	r.Display(&mockWorker{opts: WorkerOptions{JobID: "job"}})
	if surfaces[0].renderCount() != 0 || surfaces[1].renderCount() != 1 {
		t.Error("Display did not render into the new surface")
	}
}

func TestDisplaySameJobSameSurface(t *testing.T) {
	r, f := newTestRegistry()
	r.Start("job", "Job")
	r.Start("other", "Other")

	for i := 0; i < 5; i++ {
		r.Display(&mockWorker{opts: WorkerOptions{JobID: "job", Title: fmt.Sprintf("task %d", i)}})
	}

	surfaces := f.created()
	if surfaces[0].renderCount() != 5 {
		t.Errorf("job surface renders = %d, want 5", surfaces[0].renderCount())
	}
	if surfaces[1].renderCount() != 0 {
		t.Errorf("other surface renders = %d, want 0", surfaces[1].renderCount())
	}
	if got := r.Sessions()[0].Renders; got != 5 {
		t.Errorf("Sessions()[0].Renders = %d, want 5", got)
	}
}

func TestStopUnknownJob(t *testing.T) {
	r, f := newTestRegistry()
	r.Stop("missing")
	r.Stop("")
	if n := len(f.created()); n != 0 {
		t.Errorf("created %d surfaces, want 0", n)
	}
}

func TestStopAll(t *testing.T) {
	r, f := newTestRegistry()
	for i := 0; i < 3; i++ {
		r.Start(JobID(fmt.Sprintf("job%d", i)), "t")
	}
	r.StopAll()

	for _, s := range f.created() {
		if s.stopCount() != 1 {
			t.Errorf("%s stop calls = %d, want 1", s.id, s.stopCount())
		}
	}
	if n := len(r.Sessions()); n != 0 {
		t.Errorf("Sessions() has %d entries after StopAll", n)
	}
}

func TestConcurrentStartCreatesOneSurface(t *testing.T) {
	r, f := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Start("shared", "Shared")
			r.Display(&mockWorker{opts: WorkerOptions{JobID: "shared"}})
		}()
	}
	wg.Wait()

	if n := f.count(false); n != 1 {
		t.Fatalf("created %d pinned surfaces, want 1", n)
	}
	if got := f.created()[0].renderCount(); got+f.count(true) != 50 {
		t.Errorf("renders %d + ephemeral %d != 50", got, f.count(true))
	}
}

func TestConcurrentStopReleasesOnce(t *testing.T) {
	r, f := newTestRegistry()
	r.Start("job", "Job")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop("job")
		}()
	}
	wg.Wait()

	if got := f.created()[0].stopCount(); got != 1 {
		t.Errorf("stop calls = %d, want 1", got)
	}
}

func TestPublishesSessionEvents(t *testing.T) {
	pub := &recordingPublisher{}
	f := &mockFactory{}
	r := NewRegistry(f, WithLogger(logging.Discard()), WithPublisher(pub))

	r.Start("job", "Job")
	r.Start("job", "Job")
	r.Stop("job")

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Fatalf("published %d events, want 2", len(pub.events))
	}
	started, ok := pub.events[0].(events.SessionStartedEvent)
	if !ok || started.JobID != "job" || started.SurfaceID != "surface-1" {
		t.Errorf("first event = %#v", pub.events[0])
	}
	if _, ok := pub.events[1].(events.SessionStoppedEvent); !ok {
		t.Errorf("second event = %#v", pub.events[1])
	}
}

func TestNewRegistryRequiresFactory(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewRegistry(nil) did not panic")
		}
	}()
	NewRegistry(nil)
}

func TestSurfaceFactoryFunc(t *testing.T) {
	var gotTitle string
	var gotAuto bool
	r := NewRegistry(SurfaceFactoryFunc(func(title string, autoClose bool) Surface {
		gotTitle, gotAuto = title, autoClose
		return &mockSurface{}
	}), WithLogger(logging.Discard()))

	r.Display(&mockWorker{})
	if gotTitle != DefaultTitle || !gotAuto {
		t.Errorf("factory got %q autoClose=%v", gotTitle, gotAuto)
	}
}

// blockingSurface holds RenderWorker until release is closed.
type blockingSurface struct {
	mockSurface
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSurface) RenderWorker(w Worker) {
	s.entered <- struct{}{}
	<-s.release
	s.mockSurface.RenderWorker(w)
}

func TestSlowRenderDoesNotBlockRegistry(t *testing.T) {
	release := make(chan struct{})
	surfaces := make(map[string]*blockingSurface)
	var mu sync.Mutex
	r := NewRegistry(SurfaceFactoryFunc(func(title string, autoClose bool) Surface {
		mu.Lock()
		defer mu.Unlock()
		s := &blockingSurface{
			mockSurface: mockSurface{title: title, autoClose: autoClose},
			entered:     make(chan struct{}, 1),
			release:     release,
		}
		surfaces[title] = s
		return s
	}), WithLogger(logging.Discard()))

	if err := r.Start("slow", "slow"); err != nil {
		t.Fatal(err)
	}
	if err := r.Start("other", "other"); err != nil {
		t.Fatal(err)
	}

	rendered := make(chan struct{})
	go func() {
		r.Display(&mockWorker{opts: WorkerOptions{JobID: "slow"}})
		close(rendered)
	}()
	mu.Lock()
	slow := surfaces["slow"]
	mu.Unlock()
	<-slow.entered

	done := make(chan struct{})
	go func() {
		r.Stop("other")
		_ = r.AppExited()
		_ = r.Has("slow")
		_ = r.Start("third", "third")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked while a surface was rendering")
	}

	close(release)
	<-rendered
	if slow.renderCount() != 1 {
		t.Errorf("slow surface rendered %d workers, want 1", slow.renderCount())
	}
	if r.Has("other") {
		t.Error("other job still registered after Stop")
	}
}
