package dictation_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/sflow/internal/dictation"
	"github.com/MrWong99/sflow/internal/observe"
	"github.com/MrWong99/sflow/internal/remote"
	"github.com/MrWong99/sflow/internal/resilience"
	"github.com/MrWong99/sflow/pkg/audio"
	"github.com/MrWong99/sflow/pkg/audio/mock"
	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/provider/llm"
	llmmock "github.com/MrWong99/sflow/pkg/provider/llm/mock"
	"github.com/MrWong99/sflow/pkg/provider/stt"
	sttmock "github.com/MrWong99/sflow/pkg/provider/stt/mock"
	"github.com/MrWong99/sflow/pkg/types"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

// fakeCapture hands out pre-built utterances.
type fakeCapture struct {
	mu       sync.Mutex
	t        *testing.T
	startErr error
	stopErr  error
	silent   bool
	seq      uint64

	starts   int
	stops    int
	discards int
}

func (c *fakeCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return c.startErr
}

func (c *fakeCapture) Stop() (*audio.Utterance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
	if c.stopErr != nil {
		return nil, c.stopErr
	}
	if c.silent {
		return nil, nil
	}
	c.seq++
	path := filepath.Join(c.t.TempDir(), "sflow-test.wav")
	if err := os.WriteFile(path, []byte("RIFF fake"), 0o600); err != nil {
		c.t.Fatalf("write utterance: %v", err)
	}
	return audio.NewUtterance(c.seq, path, audio.DefaultFormat(), 44100), nil
}

func (c *fakeCapture) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.discards++
}

// gatedCapture blocks Start and Stop until the test releases them.
type gatedCapture struct {
	fakeCapture
	entered chan string
	release chan struct{}
}

func newGatedCapture(t *testing.T) *gatedCapture {
	return &gatedCapture{
		fakeCapture: fakeCapture{t: t},
		entered:     make(chan string, 1),
		release:     make(chan struct{}),
	}
}

func (g *gatedCapture) Start() error {
	g.entered <- "start"
	<-g.release
	return g.fakeCapture.Start()
}

func (g *gatedCapture) Stop() (*audio.Utterance, error) {
	g.entered <- "stop"
	<-g.release
	return g.fakeCapture.Stop()
}

func (g *gatedCapture) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-g.entered:
		if got != want {
			t.Fatalf("capture entered %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for capture %s", want)
	}
}

// within runs fn and fails when it does not return promptly.
func within(t *testing.T, what string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("%s blocked behind capture I/O", what)
	}
}

type recordingPaster struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (p *recordingPaster) Paste(_ context.Context, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return p.err
}

func (p *recordingPaster) get() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	outcomes []dictation.Outcome
}

func (n *recordingNotifier) Notify(o dictation.Outcome) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outcomes = append(n.outcomes, o)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outcomes)
}

type recordingUsage struct {
	mu    sync.Mutex
	total types.Usage
	calls int
}

func (u *recordingUsage) Record(v types.Usage) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.total = u.total.Add(v)
	u.calls++
	return nil
}

func (u *recordingUsage) get() types.Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.total
}

// ── Helpers ───────────────────────────────────────────────────────────────────

type harness struct {
	p        *dictation.Pipeline
	capture  *fakeCapture
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	paster   *recordingPaster
	notifier *recordingNotifier
	usage    *recordingUsage
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newHarness(t *testing.T, sp *sttmock.Provider, lp *llmmock.Provider, opts ...dictation.Option) *harness {
	t.Helper()
	return newHarnessWithCapture(t, &fakeCapture{t: t}, sp, lp, opts...)
}

func newHarnessWithCapture(t *testing.T, c dictation.Capture, sp *sttmock.Provider, lp *llmmock.Provider, opts ...dictation.Option) *harness {
	t.Helper()
	m := testMetrics(t)
	client := remote.New(sp, lp,
		remote.WithPolicy(resilience.Policy{MaxRetries: 1, BaseDelay: time.Millisecond}),
		remote.WithMetrics(m),
	)
	h := &harness{
		stt:      sp,
		llm:      lp,
		paster:   &recordingPaster{},
		notifier: &recordingNotifier{},
		usage:    &recordingUsage{},
	}
	if fc, ok := c.(*fakeCapture); ok {
		h.capture = fc
	}
	base := []dictation.Option{
		dictation.WithPaster(h.paster),
		dictation.WithNotifier(h.notifier),
		dictation.WithUsage(h.usage),
		dictation.WithMetrics(m),
		dictation.WithSettings(func() remote.Settings {
			return remote.Settings{APIKey: "sk-test", ContextBudget: 3000}
		}),
	}
	h.p = dictation.New(c, client, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.p.Close(ctx)
	})
	return h
}

func waitOutcome(t *testing.T, p *dictation.Pipeline) dictation.Outcome {
	t.Helper()
	select {
	case o := <-p.Outcomes():
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outcome")
		return dictation.Outcome{}
	}
}

func expectNoOutcome(t *testing.T, p *dictation.Pipeline) {
	t.Helper()
	select {
	case o := <-p.Outcomes():
		t.Fatalf("unexpected outcome: %+v", o)
	default:
	}
}

func closePipeline(t *testing.T, p *dictation.Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func dictate(t *testing.T, p *dictation.Pipeline, mode types.Mode) {
	t.Helper()
	if err := p.StartCapture(mode); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := p.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
}

// blockingSTT returns an stt mock that waits for release before answering.
func blockingSTT(text string) (*sttmock.Provider, chan struct{}) {
	release := make(chan struct{})
	return &sttmock.Provider{Fn: func(ctx context.Context, _ stt.Request) (*stt.Result, error) {
		select {
		case <-release:
			return &stt.Result{Text: text}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}, release
}

func completion(text string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: text,
		Usage:   llm.Usage{PromptTokens: 40, CompletionTokens: 5},
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestStateString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    dictation.State
		want string
	}{
		{dictation.Idle, "idle"},
		{dictation.Recording, "recording"},
		{dictation.Transcribing, "transcribing"},
		{dictation.Correcting, "correcting"},
		{dictation.Done, "done"},
		{dictation.Cancelled, "cancelled"},
		{dictation.Failed, "failed"},
		{dictation.State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestPipeline_CorrectsAndPastes(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		&sttmock.Provider{Result: &stt.Result{Text: "привет мир"}},
		&llmmock.Provider{CompleteResponse: completion("Привет, мир!")},
	)

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)

	if o.State != dictation.Done || o.Kind != "" {
		t.Fatalf("outcome = %v/%q, want done without warning", o.State, o.Kind)
	}
	if o.Text != "Привет, мир!" {
		t.Errorf("Text = %q, want %q", o.Text, "Привет, мир!")
	}
	if got := h.paster.get(); len(got) != 1 || got[0] != "Привет, мир!" {
		t.Errorf("pasted = %q, want one corrected text", got)
	}
	hist := h.p.History()
	if len(hist) != 1 || hist[0].Text != "Привет, мир!" || !hist[0].IsBot {
		t.Errorf("history = %+v, want one bot turn", hist)
	}
	if h.p.State() != dictation.Idle {
		t.Errorf("state = %v, want idle", h.p.State())
	}
	if got := h.llm.CompleteCalls[0].Req.Messages[0].Content; got != "привет мир" {
		t.Errorf("llm input = %q, want transcript", got)
	}
	want := types.Usage{AudioSeconds: 1, PromptTokens: 40, CompletionTokens: 5}
	if got := h.usage.get(); got != want {
		t.Errorf("usage = %+v, want %+v", got, want)
	}
	if o.Usage != want {
		t.Errorf("outcome usage = %+v, want %+v", o.Usage, want)
	}
	if h.notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", h.notifier.count())
	}
}

// TestPipeline_CancelDuringTranscription cancels while the transcription is
// in flight, then lets it finish. The late transcript must not be corrected,
// pasted or added to the history, and only the Cancelled outcome is emitted.
func TestPipeline_CancelDuringTranscription(t *testing.T) {
	t.Parallel()
	sp, release := blockingSTT("late text")
	h := newHarness(t, sp, &llmmock.Provider{CompleteResponse: completion("Late text.")})

	dictate(t, h.p, types.ModeCorrection)
	if h.p.State() != dictation.Transcribing {
		t.Fatalf("state = %v, want transcribing", h.p.State())
	}

	if !h.p.Cancel() {
		t.Fatal("Cancel() = false, want true")
	}
	o := waitOutcome(t, h.p)
	if o.State != dictation.Cancelled || o.Seq != 1 {
		t.Fatalf("outcome = %+v, want cancelled seq 1", o)
	}
	if h.p.State() != dictation.Idle {
		t.Errorf("state after cancel = %v, want idle", h.p.State())
	}

	close(release)
	closePipeline(t, h.p)

	expectNoOutcome(t, h.p)
	if n := h.llm.CallCount(); n != 0 {
		t.Errorf("llm calls = %d, want 0", n)
	}
	if got := h.paster.get(); len(got) != 0 {
		t.Errorf("pasted = %q, want nothing", got)
	}
	if got := h.p.History(); len(got) != 0 {
		t.Errorf("history = %+v, want empty", got)
	}
	if got := h.usage.get(); got.AudioSeconds != 1 {
		t.Errorf("usage audio = %v, want 1 (stale usage still counted)", got.AudioSeconds)
	}
}

func TestPipeline_CancelDuringCorrection(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	entered := make(chan struct{})
	lp := &llmmock.Provider{Fn: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		close(entered)
		select {
		case <-release:
			return completion("Too late."), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	h := newHarness(t, &sttmock.Provider{Result: &stt.Result{Text: "too late"}}, lp)

	dictate(t, h.p, types.ModeCorrection)
	<-entered
	if h.p.State() != dictation.Correcting {
		t.Fatalf("state = %v, want correcting", h.p.State())
	}
	h.p.Cancel()
	if o := waitOutcome(t, h.p); o.State != dictation.Cancelled {
		t.Fatalf("outcome = %v, want cancelled", o.State)
	}

	close(release)
	closePipeline(t, h.p)
	expectNoOutcome(t, h.p)
	if got := h.paster.get(); len(got) != 0 {
		t.Errorf("pasted = %q, want nothing", got)
	}
	if got := h.p.History(); len(got) != 0 {
		t.Errorf("history = %+v, want empty", got)
	}
	if got := h.usage.get(); got.PromptTokens != 40 {
		t.Errorf("prompt tokens = %d, want 40", got.PromptTokens)
	}
}

func TestPipeline_FreshUtteranceAfterCancel(t *testing.T) {
	t.Parallel()
	var calls int
	var mu sync.Mutex
	stale := make(chan struct{})
	sp := &sttmock.Provider{Fn: func(ctx context.Context, _ stt.Request) (*stt.Result, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			<-stale
			return &stt.Result{Text: "stale"}, nil
		}
		return &stt.Result{Text: "fresh"}, nil
	}}
	lp := &llmmock.Provider{Fn: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return completion(strings.ToUpper(req.Messages[0].Content)), nil
	}}
	h := newHarness(t, sp, lp)

	dictate(t, h.p, types.ModeCorrection)
	h.p.Cancel()
	waitOutcome(t, h.p)

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)
	if o.State != dictation.Done || o.Text != "FRESH" {
		t.Fatalf("outcome = %+v, want done FRESH", o)
	}

	close(stale)
	closePipeline(t, h.p)
	expectNoOutcome(t, h.p)
	if got := h.paster.get(); len(got) != 1 || got[0] != "FRESH" {
		t.Errorf("pasted = %q, want only FRESH", got)
	}
}

func TestPipeline_StartWhileBusy(t *testing.T) {
	t.Parallel()
	sp, release := blockingSTT("text")
	h := newHarness(t, sp, &llmmock.Provider{CompleteResponse: completion("Text.")})

	dictate(t, h.p, types.ModeCorrection)
	if err := h.p.StartCapture(types.ModeTranslation); !errors.Is(err, dictation.ErrBusy) {
		t.Fatalf("StartCapture while busy = %v, want ErrBusy", err)
	}
	if err := h.p.Toggle(types.ModeCorrection); !errors.Is(err, dictation.ErrBusy) {
		t.Fatalf("Toggle while busy = %v, want ErrBusy", err)
	}
	if h.capture.starts != 1 {
		t.Errorf("capture starts = %d, want 1", h.capture.starts)
	}
	if h.p.State() != dictation.Transcribing {
		t.Errorf("state = %v, want transcribing", h.p.State())
	}

	close(release)
	if o := waitOutcome(t, h.p); o.State != dictation.Done {
		t.Errorf("outcome = %v, want done", o.State)
	}
}

func TestPipeline_StartWhileRecording(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{}, &llmmock.Provider{})
	if err := h.p.StartCapture(types.ModeCorrection); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := h.p.StartCapture(types.ModeCorrection); !errors.Is(err, audio.ErrAlreadyRecording) {
		t.Errorf("second StartCapture = %v, want ErrAlreadyRecording", err)
	}
}

func TestPipeline_InvalidMode(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{}, &llmmock.Provider{})
	if err := h.p.StartCapture("shout"); err == nil {
		t.Fatal("StartCapture(invalid) = nil, want error")
	}
	if h.capture.starts != 0 {
		t.Errorf("capture starts = %d, want 0", h.capture.starts)
	}
}

func TestPipeline_FallbackPastesTranscript(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		&sttmock.Provider{Result: &stt.Result{Text: "raw words"}},
		&llmmock.Provider{CompleteErr: fault.New(fault.RemoteServiceError, "mock", errors.New("500"))},
	)

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)

	if o.State != dictation.Done || !o.Warning() {
		t.Fatalf("outcome = %v warning=%v, want done with warning", o.State, o.Warning())
	}
	if o.Kind != fault.CorrectionFailed {
		t.Errorf("Kind = %q, want %q", o.Kind, fault.CorrectionFailed)
	}
	if !errors.Is(o.Err, fault.ErrRemoteServiceError) {
		t.Errorf("Err = %v, want remote service error cause", o.Err)
	}
	if got := h.paster.get(); len(got) != 1 || got[0] != "raw words" {
		t.Errorf("pasted = %q, want original transcript", got)
	}
	if got := h.p.History(); len(got) != 0 {
		t.Errorf("history = %+v, want empty after fallback", got)
	}
	if h.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", h.notifier.count())
	}
}

func TestPipeline_TranscriptionFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		&sttmock.Provider{Err: fault.New(fault.InvalidCredential, "mock", errors.New("401"))},
		&llmmock.Provider{},
	)

	dictate(t, h.p, types.ModeTranslation)
	o := waitOutcome(t, h.p)

	if o.State != dictation.Failed || o.Kind != fault.InvalidCredential {
		t.Fatalf("outcome = %v/%q, want failed invalid_credential", o.State, o.Kind)
	}
	if o.Mode != types.ModeTranslation {
		t.Errorf("Mode = %q, want translation", o.Mode)
	}
	if n := h.llm.CallCount(); n != 0 {
		t.Errorf("llm calls = %d, want 0", n)
	}
	if got := h.paster.get(); len(got) != 0 {
		t.Errorf("pasted = %q, want nothing", got)
	}
	if h.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", h.notifier.count())
	}
	if h.p.State() != dictation.Idle {
		t.Errorf("state = %v, want idle", h.p.State())
	}
}

func TestPipeline_MissingKey(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{}, &llmmock.Provider{},
		dictation.WithSettings(func() remote.Settings { return remote.Settings{} }))

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)
	if o.Kind != fault.InvalidCredential {
		t.Fatalf("Kind = %q, want invalid_credential", o.Kind)
	}
	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("stt calls = %d, want 0", n)
	}
}

func TestPipeline_DeviceErrorOnStart(t *testing.T) {
	t.Parallel()
	c := &fakeCapture{t: t, startErr: errors.New("no input device")}
	h := newHarnessWithCapture(t, c, &sttmock.Provider{}, &llmmock.Provider{})

	err := h.p.StartCapture(types.ModeCorrection)
	if !errors.Is(err, fault.ErrAudioDeviceError) {
		t.Fatalf("StartCapture = %v, want audio device error", err)
	}
	o := waitOutcome(t, h.p)
	if o.State != dictation.Failed || o.Kind != fault.AudioDeviceError {
		t.Errorf("outcome = %v/%q, want failed audio_device_error", o.State, o.Kind)
	}
	if h.p.State() != dictation.Idle {
		t.Errorf("state = %v, want idle", h.p.State())
	}
	if h.notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", h.notifier.count())
	}
}

func TestPipeline_DeviceErrorOnStop(t *testing.T) {
	t.Parallel()
	c := &fakeCapture{t: t, stopErr: errors.New("encode failed")}
	h := newHarnessWithCapture(t, c, &sttmock.Provider{}, &llmmock.Provider{})

	if err := h.p.StartCapture(types.ModeCorrection); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if err := h.p.StopCapture(); !errors.Is(err, fault.ErrAudioDeviceError) {
		t.Fatalf("StopCapture = %v, want audio device error", err)
	}
	if o := waitOutcome(t, h.p); o.Kind != fault.AudioDeviceError {
		t.Errorf("Kind = %q, want audio_device_error", o.Kind)
	}
	if h.p.State() != dictation.Idle {
		t.Errorf("state = %v, want idle", h.p.State())
	}
}

func TestPipeline_NoAudioIsSilent(t *testing.T) {
	t.Parallel()
	c := &fakeCapture{t: t, silent: true}
	h := newHarnessWithCapture(t, c, &sttmock.Provider{}, &llmmock.Provider{})

	dictate(t, h.p, types.ModeCorrection)
	if h.p.State() != dictation.Idle {
		t.Errorf("state = %v, want idle", h.p.State())
	}
	expectNoOutcome(t, h.p)
	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("stt calls = %d, want 0", n)
	}
	if h.notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", h.notifier.count())
	}
}

func TestPipeline_StopWhenIdle(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{}, &llmmock.Provider{})
	for range 2 {
		if err := h.p.StopCapture(); err != nil {
			t.Fatalf("StopCapture when idle = %v, want nil", err)
		}
	}
	if h.capture.stops != 0 {
		t.Errorf("capture stops = %d, want 0", h.capture.stops)
	}
}

func TestPipeline_EmptyTranscription(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{Result: &stt.Result{Text: "   "}}, &llmmock.Provider{})

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)
	if o.State != dictation.Done || o.Text != "" {
		t.Fatalf("outcome = %+v, want done with no text", o)
	}
	if n := h.llm.CallCount(); n != 0 {
		t.Errorf("llm calls = %d, want 0", n)
	}
	if got := h.paster.get(); len(got) != 0 {
		t.Errorf("pasted = %q, want nothing", got)
	}
	if got := h.p.History(); len(got) != 0 {
		t.Errorf("history = %+v, want empty", got)
	}
}

func TestPipeline_CancelRecording(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{}, &llmmock.Provider{})

	if err := h.p.StartCapture(types.ModeTranslation); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	if !h.p.Cancel() {
		t.Fatal("Cancel() = false, want true")
	}
	o := waitOutcome(t, h.p)
	if o.State != dictation.Cancelled || o.Seq != 0 {
		t.Errorf("outcome = %+v, want cancelled with no seq", o)
	}
	if h.capture.discards != 1 {
		t.Errorf("discards = %d, want 1", h.capture.discards)
	}
	if h.p.Cancel() {
		t.Error("Cancel() when idle = true, want false")
	}
	expectNoOutcome(t, h.p)
	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("stt calls = %d, want 0", n)
	}
}

func TestPipeline_Toggle(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		&sttmock.Provider{Result: &stt.Result{Text: "hello"}},
		&llmmock.Provider{CompleteResponse: completion("Hello.")},
	)

	if err := h.p.Toggle(types.ModeCorrection); err != nil {
		t.Fatalf("Toggle (start): %v", err)
	}
	if h.p.State() != dictation.Recording {
		t.Fatalf("state = %v, want recording", h.p.State())
	}
	if err := h.p.Toggle(types.ModeTranslation); err != nil {
		t.Fatalf("Toggle (stop): %v", err)
	}
	o := waitOutcome(t, h.p)
	if o.Mode != types.ModeCorrection {
		t.Errorf("Mode = %q, want mode latched at start", o.Mode)
	}
	if o.Text != "Hello." {
		t.Errorf("Text = %q, want %q", o.Text, "Hello.")
	}
}

func TestPipeline_HistoryFeedsNextPrompt(t *testing.T) {
	t.Parallel()
	var n int
	var mu sync.Mutex
	sp := &sttmock.Provider{Fn: func(context.Context, stt.Request) (*stt.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		if n == 1 {
			return &stt.Result{Text: "first"}, nil
		}
		return &stt.Result{Text: "second"}, nil
	}}
	lp := &llmmock.Provider{Fn: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return completion(strings.ToUpper(req.Messages[0].Content)), nil
	}}
	h := newHarness(t, sp, lp)

	dictate(t, h.p, types.ModeCorrection)
	waitOutcome(t, h.p)
	dictate(t, h.p, types.ModeCorrection)
	waitOutcome(t, h.p)

	if got := h.llm.CompleteCalls[0].Req.SystemPrompt; strings.Contains(got, "- FIRST") {
		t.Errorf("first prompt already contains its own output: %q", got)
	}
	if got := h.llm.CompleteCalls[1].Req.SystemPrompt; !strings.Contains(got, "- FIRST") {
		t.Errorf("second prompt = %q, want previous turn in context", got)
	}
	hist := h.p.History()
	if len(hist) != 2 || hist[0].Text != "FIRST" || hist[1].Text != "SECOND" {
		t.Errorf("history = %+v, want FIRST, SECOND", hist)
	}
}

// TestPipeline_SettingsSnapshot changes the settings after dispatch; the
// in-flight utterance must keep the values read at StopCapture.
func TestPipeline_SettingsSnapshot(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	current := remote.Settings{APIKey: "sk-old", TranscriptionModel: "model-a", ContextBudget: 3000}
	sp, release := blockingSTT("text")
	h := newHarness(t, sp, &llmmock.Provider{CompleteResponse: completion("Text.")},
		dictation.WithSettings(func() remote.Settings {
			mu.Lock()
			defer mu.Unlock()
			return current
		}))

	dictate(t, h.p, types.ModeCorrection)
	mu.Lock()
	current = remote.Settings{APIKey: "sk-new", TranscriptionModel: "model-b", ContextBudget: 3000}
	mu.Unlock()
	close(release)
	waitOutcome(t, h.p)

	req := h.stt.Calls[0].Req
	if req.APIKey != "sk-old" || req.Model != "model-a" {
		t.Errorf("stt request = key %q model %q, want snapshot values", req.APIKey, req.Model)
	}
	if got := h.llm.CompleteCalls[0].Req.APIKey; got != "sk-old" {
		t.Errorf("llm key = %q, want sk-old", got)
	}
}

func TestPipeline_VocabularySnapsTranscript(t *testing.T) {
	t.Parallel()
	lp := &llmmock.Provider{Fn: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		return completion(req.Messages[0].Content), nil
	}}
	h := newHarness(t, &sttmock.Provider{Result: &stt.Result{Text: "deploy to kubernetis now"}}, lp,
		dictation.WithSettings(func() remote.Settings {
			return remote.Settings{APIKey: "sk-test", ContextBudget: 3000, Vocabulary: []string{"Kubernetes"}}
		}))

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)
	if o.Text != "deploy to Kubernetes now" {
		t.Errorf("Text = %q, want vocabulary term applied", o.Text)
	}
	if got := h.stt.Calls[0].Req.Prompt; got != "Kubernetes" {
		t.Errorf("stt prompt = %q, want vocabulary hint", got)
	}
}

func TestPipeline_PasteErrorKeepsOutcome(t *testing.T) {
	t.Parallel()
	h := newHarness(t,
		&sttmock.Provider{Result: &stt.Result{Text: "words"}},
		&llmmock.Provider{CompleteResponse: completion("Words.")},
	)
	h.paster.err = errors.New("clipboard locked")

	dictate(t, h.p, types.ModeCorrection)
	o := waitOutcome(t, h.p)
	if o.State != dictation.Done || o.Err == nil {
		t.Fatalf("outcome = %+v, want done carrying the paste error", o)
	}
	if got := h.p.History(); len(got) != 1 {
		t.Errorf("history len = %d, want 1 (paste failures are not rolled back)", len(got))
	}
}

func TestPipeline_CloseDiscardsRecording(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &sttmock.Provider{}, &llmmock.Provider{})
	if err := h.p.StartCapture(types.ModeCorrection); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	closePipeline(t, h.p)

	if h.capture.discards != 1 {
		t.Errorf("discards = %d, want 1", h.capture.discards)
	}
	if err := h.p.StartCapture(types.ModeCorrection); !errors.Is(err, dictation.ErrClosed) {
		t.Errorf("StartCapture after Close = %v, want ErrClosed", err)
	}
}

func TestPipeline_CloseTimeoutAbortsWorkers(t *testing.T) {
	t.Parallel()
	sp, _ := blockingSTT("never")
	h := newHarness(t, sp, &llmmock.Provider{})

	dictate(t, h.p, types.ModeCorrection)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.p.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v, want deadline exceeded", err)
	}
}

// TestPipeline_RealCapture runs the pipeline over audio.Capture and the mock
// device, and checks that the temp WAV is gone once the pipeline closes.
func TestPipeline_RealCapture(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	dev := &mock.Device{}
	c := audio.NewCapture(dev, audio.WithTempDir(dir))
	h := newHarnessWithCapture(t, c,
		&sttmock.Provider{Result: &stt.Result{Text: "hello"}},
		&llmmock.Provider{CompleteResponse: completion("Hello.")},
	)

	if err := h.p.StartCapture(types.ModeCorrection); err != nil {
		t.Fatalf("StartCapture: %v", err)
	}
	dev.Last().EmitSilence(44100)
	if err := h.p.StopCapture(); err != nil {
		t.Fatalf("StopCapture: %v", err)
	}
	if o := waitOutcome(t, h.p); o.Text != "Hello." {
		t.Fatalf("Text = %q, want Hello.", o.Text)
	}
	closePipeline(t, h.p)

	if n := h.stt.Calls[0].AudioBytes; n <= 44 {
		t.Errorf("audio bytes = %d, want a WAV with samples", n)
	}
	left, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("temp files left = %v, want none", left)
	}
}

func TestPipeline_RealCaptureDeviceError(t *testing.T) {
	t.Parallel()
	dev := &mock.Device{OpenErr: errors.New("device busy")}
	c := audio.NewCapture(dev, audio.WithTempDir(t.TempDir()))
	h := newHarnessWithCapture(t, c, &sttmock.Provider{}, &llmmock.Provider{})

	err := h.p.StartCapture(types.ModeCorrection)
	if !errors.Is(err, fault.ErrAudioDeviceError) || !errors.Is(err, audio.ErrDevice) {
		t.Fatalf("StartCapture = %v, want audio device error wrapping ErrDevice", err)
	}
	if o := waitOutcome(t, h.p); o.Kind != fault.AudioDeviceError {
		t.Errorf("Kind = %q, want audio_device_error", o.Kind)
	}
}

func TestPipeline_CaptureIODoesNotHoldLock(t *testing.T) {
	t.Parallel()
	c := newGatedCapture(t)
	h := newHarnessWithCapture(t, c,
		&sttmock.Provider{Result: &stt.Result{Text: "привет"}},
		&llmmock.Provider{CompleteResponse: completion("Привет.")},
	)

	started := make(chan error, 1)
	go func() { started <- h.p.StartCapture(types.ModeCorrection) }()
	c.wait(t, "start")

	within(t, "State during device open", func() {
		if got := h.p.State(); got != dictation.Idle {
			t.Errorf("State() = %v, want idle while the device opens", got)
		}
	})
	within(t, "second StartCapture", func() {
		if err := h.p.StartCapture(types.ModeCorrection); !errors.Is(err, dictation.ErrBusy) {
			t.Errorf("StartCapture while opening = %v, want ErrBusy", err)
		}
	})
	c.release <- struct{}{}
	if err := <-started; err != nil {
		t.Fatalf("StartCapture: %v", err)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- h.p.StopCapture() }()
	c.wait(t, "stop")

	within(t, "State and History during finalize", func() {
		if got := h.p.State(); got != dictation.Recording {
			t.Errorf("State() = %v, want recording while the file is written", got)
		}
		_ = h.p.History()
	})
	within(t, "second StopCapture", func() {
		if err := h.p.StopCapture(); err != nil {
			t.Errorf("StopCapture while finalizing = %v, want nil", err)
		}
	})
	c.release <- struct{}{}
	if err := <-stopped; err != nil {
		t.Fatalf("StopCapture: %v", err)
	}

	if o := waitOutcome(t, h.p); o.State != dictation.Done || o.Text != "Привет." {
		t.Errorf("outcome = %+v, want done with corrected text", o)
	}
}

func TestPipeline_CancelDuringCaptureStop(t *testing.T) {
	t.Parallel()
	c := newGatedCapture(t)
	h := newHarnessWithCapture(t, c,
		&sttmock.Provider{Result: &stt.Result{Text: "привет"}},
		&llmmock.Provider{CompleteResponse: completion("Привет.")},
	)

	go func() { _ = h.p.StartCapture(types.ModeCorrection) }()
	c.wait(t, "start")
	c.release <- struct{}{}

	stopped := make(chan error, 1)
	go func() {
		for h.p.State() != dictation.Recording {
			time.Sleep(time.Millisecond)
		}
		stopped <- h.p.StopCapture()
	}()
	c.wait(t, "stop")

	within(t, "Cancel during finalize", func() {
		if !h.p.Cancel() {
			t.Error("Cancel() = false, want true")
		}
	})
	c.release <- struct{}{}
	if err := <-stopped; err != nil {
		t.Fatalf("StopCapture: %v", err)
	}

	if o := waitOutcome(t, h.p); o.State != dictation.Cancelled {
		t.Errorf("outcome = %+v, want cancelled", o)
	}
	expectNoOutcome(t, h.p)
	if got := h.p.State(); got != dictation.Idle {
		t.Errorf("State() = %v, want idle", got)
	}
	if n := h.stt.CallCount(); n != 0 {
		t.Errorf("stt calls = %d, want 0 for a cancelled utterance", n)
	}
}

func TestPipeline_CancelDuringCaptureStart(t *testing.T) {
	t.Parallel()
	c := newGatedCapture(t)
	h := newHarnessWithCapture(t, c, &sttmock.Provider{}, &llmmock.Provider{})

	started := make(chan error, 1)
	go func() { started <- h.p.StartCapture(types.ModeTranslation) }()
	c.wait(t, "start")

	if !h.p.Cancel() {
		t.Fatal("Cancel() = false, want true")
	}
	c.release <- struct{}{}
	if err := <-started; err != nil {
		t.Fatalf("StartCapture = %v, want nil after cancel", err)
	}

	o := waitOutcome(t, h.p)
	if o.State != dictation.Cancelled || o.Mode != types.ModeTranslation {
		t.Errorf("outcome = %+v, want cancelled translation", o)
	}
	expectNoOutcome(t, h.p)
	if got := h.p.State(); got != dictation.Idle {
		t.Errorf("State() = %v, want idle", got)
	}
	c.mu.Lock()
	discards := c.discards
	c.mu.Unlock()
	if discards != 1 {
		t.Errorf("discards = %d, want 1 for the abandoned stream", discards)
	}
}
