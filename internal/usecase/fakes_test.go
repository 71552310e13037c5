package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"withvoice/internal/clock"
	"withvoice/internal/domain"
	"withvoice/internal/ports"
)

var testEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type fakeStream struct {
	mu        sync.Mutex
	stopCalls int
}

func (s *fakeStream) Format() ports.StreamFormat {
	return ports.StreamFormat{SampleRate: 44100, Channels: 1}
}

func (s *fakeStream) Subscribe(_ int) (<-chan []byte, func()) {
	ch := make(chan []byte)
	return ch, func() {}
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *fakeStream) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

type fakeDevice struct {
	mu          sync.Mutex
	err         error
	gate        chan struct{}
	requested   chan struct{}
	streams     []*fakeStream
	constraints []ports.CaptureConstraints
}

func (d *fakeDevice) RequestStream(ctx context.Context, constraints ports.CaptureConstraints) (ports.AudioStream, error) {
	d.mu.Lock()
	d.constraints = append(d.constraints, constraints)
	gate := d.gate
	requested := d.requested
	d.mu.Unlock()

	if requested != nil {
		close(requested)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}

	stream := &fakeStream{}
	d.mu.Lock()
	d.streams = append(d.streams, stream)
	d.mu.Unlock()
	return stream, nil
}

func (d *fakeDevice) lastStream() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

func (d *fakeDevice) requests() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.constraints)
}

type fakeEncoder struct {
	mu          sync.Mutex
	events      ports.EncoderEvents
	mimeType    string
	interval    time.Duration
	started     bool
	pauseCalls  int
	resumeCalls int
	stopCalls   int
	stopped     bool
	manualStop  bool
	startErr    error
	exitOnStart bool
	exitErr     error
}

func (e *fakeEncoder) Start(interval time.Duration) error {
	e.mu.Lock()
	if e.startErr != nil {
		e.mu.Unlock()
		return e.startErr
	}
	e.started = true
	e.interval = interval
	exit := e.exitOnStart
	e.mu.Unlock()

	// An encoder process can die before Start returns to the caller.
	if exit {
		e.finish(e.exitErr)
	}
	return nil
}

func (e *fakeEncoder) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseCalls++
	return nil
}

func (e *fakeEncoder) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resumeCalls++
	return nil
}

func (e *fakeEncoder) Stop() error {
	e.mu.Lock()
	e.stopCalls++
	manual := e.manualStop
	e.mu.Unlock()
	if !manual {
		e.finish(nil)
	}
	return nil
}

// emit delivers a fragment as the encoder goroutine would.
func (e *fakeEncoder) emit(fragment string) {
	e.events.OnFragment([]byte(fragment))
}

// finish fires OnStopped at most once.
func (e *fakeEncoder) finish(err error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	e.events.OnStopped(err)
}

func (e *fakeEncoder) stops() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

type fakeEncoderFactory struct {
	mu          sync.Mutex
	supported   map[string]bool
	newErr      error
	startErr    error
	manualStop  bool
	exitOnStart bool
	exitErr     error
	probeGate   chan struct{}
	probing     chan struct{}
	encoders    []*fakeEncoder
}

func newFakeEncoderFactory(supported ...string) *fakeEncoderFactory {
	set := make(map[string]bool, len(supported))
	for _, mimeType := range supported {
		set[mimeType] = true
	}
	return &fakeEncoderFactory{supported: set}
}

func (f *fakeEncoderFactory) FormatSupported(mimeType string) bool {
	f.mu.Lock()
	gate := f.probeGate
	probing := f.probing
	f.mu.Unlock()

	if probing != nil {
		select {
		case probing <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.supported[mimeType]
}

// blockProbes makes FormatSupported wait until the returned func is called.
func (f *fakeEncoderFactory) blockProbes() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeGate = make(chan struct{})
	f.probing = make(chan struct{}, 1)
	gate := f.probeGate
	return f.probing, func() { close(gate) }
}

func (f *fakeEncoderFactory) NewEncoder(_ ports.AudioStream, mimeType string, events ports.EncoderEvents) (ports.Encoder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.newErr != nil {
		return nil, f.newErr
	}
	encoder := &fakeEncoder{
		events:      events,
		mimeType:    mimeType,
		manualStop:  f.manualStop,
		startErr:    f.startErr,
		exitOnStart: f.exitOnStart,
		exitErr:     f.exitErr,
	}
	f.encoders = append(f.encoders, encoder)
	return encoder, nil
}

func (f *fakeEncoderFactory) last() *fakeEncoder {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.encoders) == 0 {
		return nil
	}
	return f.encoders[len(f.encoders)-1]
}

type fakeAnalyser struct {
	mu         sync.Mutex
	snapshot   []byte
	closeCalls int
}

func (a *fakeAnalyser) FrequencySnapshot() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.snapshot...)
}

func (a *fakeAnalyser) set(snapshot []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot = snapshot
}

func (a *fakeAnalyser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closeCalls++
	return nil
}

func (a *fakeAnalyser) closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closeCalls
}

type fakeAnalyserFactory struct {
	mu        sync.Mutex
	err       error
	analysers []*fakeAnalyser
}

func (f *fakeAnalyserFactory) Open(_ ports.AudioStream) (ports.Analyser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	analyser := &fakeAnalyser{snapshot: make([]byte, 128)}
	f.analysers = append(f.analysers, analyser)
	return analyser, nil
}

func (f *fakeAnalyserFactory) last() *fakeAnalyser {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.analysers) == 0 {
		return nil
	}
	return f.analysers[len(f.analysers)-1]
}

type fakeHandles struct {
	mu       sync.Mutex
	seq      int
	live     map[string]bool
	released []string
}

func newFakeHandles() *fakeHandles {
	return &fakeHandles{live: make(map[string]bool)}
}

func (h *fakeHandles) Create(data []byte, mimeType string) (domain.PlayableHandle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	id := fmt.Sprintf("handle-%d", h.seq)
	h.live[id] = true
	return domain.PlayableHandle{ID: id, Path: "/tmp/" + id, MimeType: mimeType}, nil
}

func (h *fakeHandles) Release(handle domain.PlayableHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.live, handle.ID)
	h.released = append(h.released, handle.ID)
	return nil
}

func (h *fakeHandles) liveCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

type fakeEvents struct {
	mu       sync.Mutex
	maxCount int
	failures []*domain.RecordingError
	saved    []domain.SaveRequest
}

func (e *fakeEvents) MaxDurationReached() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxCount++
}

func (e *fakeEvents) RecordingFailed(err *domain.RecordingError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures = append(e.failures, err)
}

func (e *fakeEvents) RecordingSaved(req domain.SaveRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved = append(e.saved, req)
}

func (e *fakeEvents) maxReached() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxCount
}

type fakeSaver struct {
	mu   sync.Mutex
	err  error
	reqs []domain.SaveRequest
}

func (s *fakeSaver) Save(_ context.Context, req domain.SaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.reqs = append(s.reqs, req)
	return nil
}

type recorderHarness struct {
	recorder  *Recorder
	clock     *clock.Fake
	device    *fakeDevice
	encoders  *fakeEncoderFactory
	analysers *fakeAnalyserFactory
	handles   *fakeHandles
	events    *fakeEvents
	saver     *fakeSaver
}

func newRecorderHarness(cfg RecorderConfig) *recorderHarness {
	h := &recorderHarness{
		clock:     clock.NewFake(testEpoch),
		device:    &fakeDevice{},
		encoders:  newFakeEncoderFactory("audio/webm", "audio/ogg"),
		analysers: &fakeAnalyserFactory{},
		handles:   newFakeHandles(),
		events:    &fakeEvents{},
		saver:     &fakeSaver{},
	}
	h.recorder = h.build(cfg)
	return h
}

func (h *recorderHarness) build(cfg RecorderConfig) *Recorder {
	return NewRecorder(RecorderPorts{
		Device:    h.device,
		Encoders:  h.encoders,
		Analysers: h.analysers,
		Handles:   h.handles,
		Scheduler: h.clock,
		Events:    h.events,
		Saver:     h.saver,
	}, nil, cfg)
}
