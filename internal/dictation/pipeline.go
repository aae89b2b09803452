// Package dictation drives one utterance at a time from the microphone to the
// focused application.
//
// The [Pipeline] is a small state machine:
//
//	Idle -> Recording -> Transcribing -> Correcting -> Done -> Idle
//
// with Cancelled and Failed as the other terminal states. Each dispatched
// utterance runs on its own worker goroutine. Cancellation bumps a generation
// counter instead of aborting network calls; a worker whose generation is no
// longer current has its result dropped. Every utterance ends with exactly one
// [Outcome] on the channel returned by [Pipeline.Outcomes].
package dictation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/MrWong99/sflow/internal/observe"
	"github.com/MrWong99/sflow/internal/remote"
	"github.com/MrWong99/sflow/internal/vocab"
	"github.com/MrWong99/sflow/pkg/audio"
	"github.com/MrWong99/sflow/pkg/fault"
	"github.com/MrWong99/sflow/pkg/types"
)

var (
	// ErrBusy is returned by StartCapture while an utterance is being
	// transcribed or corrected.
	ErrBusy = errors.New("dictation: pipeline busy")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("dictation: pipeline closed")
)

// DefaultOutcomeBuffer is the capacity of the outcome channel.
const DefaultOutcomeBuffer = 16

// Capture records audio between StartCapture and StopCapture.
// *audio.Capture satisfies it.
type Capture interface {
	Start() error
	Stop() (*audio.Utterance, error)
	Discard()
}

// Remote transcribes and corrects utterances. *remote.Client satisfies it.
type Remote interface {
	Transcribe(ctx context.Context, req remote.Request) (remote.Result, error)
	CorrectOrTranslate(ctx context.Context, req remote.Request, text string) (remote.Result, error)
}

// Paster delivers the final text to the focused application.
type Paster interface {
	Paste(ctx context.Context, text string) error
}

// Notifier shows failed and degraded outcomes to the user.
type Notifier interface {
	Notify(o Outcome)
}

// UsageRecorder accumulates consumed quota.
type UsageRecorder interface {
	Record(u types.Usage) error
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithPaster sets the paste target. The default discards text.
func WithPaster(p Paster) Option {
	return func(pl *Pipeline) { pl.paster = p }
}

// WithNotifier sets the user notifier. The default logs only.
func WithNotifier(n Notifier) Option {
	return func(pl *Pipeline) { pl.notifier = n }
}

// WithUsage sets the usage recorder.
func WithUsage(u UsageRecorder) Option {
	return func(pl *Pipeline) { pl.usage = u }
}

// WithSettings sets the function that snapshots settings for each utterance.
func WithSettings(fn func() remote.Settings) Option {
	return func(pl *Pipeline) { pl.settings = fn }
}

// WithSnapper sets the vocabulary matcher applied to transcripts.
func WithSnapper(s *vocab.Snapper) Option {
	return func(pl *Pipeline) { pl.snapper = s }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithOutcomeBuffer sets the outcome channel capacity.
func WithOutcomeBuffer(n int) Option {
	return func(pl *Pipeline) {
		if n > 0 {
			pl.bufSize = n
		}
	}
}

// Pipeline is the dictation state machine. All methods are safe for
// concurrent use.
type Pipeline struct {
	capture  Capture
	remote   Remote
	paster   Paster
	notifier Notifier
	usage    UsageRecorder
	settings func() remote.Settings
	snapper  *vocab.Snapper
	metrics  *observe.Metrics
	bufSize  int

	outcomes chan Outcome

	// ctx is the parent of every worker. It is cancelled only when Close
	// gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	state   State
	pending captureOp
	gen     uint64
	mode    types.Mode
	seq     uint64
	history []types.Turn
	closed  bool
}

// captureOp is a capture call running outside p.mu. While one is pending the
// state does not change except through Cancel or Close, which bump the
// generation so the call's result is thrown away when it returns.
type captureOp int

const (
	opNone captureOp = iota
	opStarting
	opStopping
	opDiscarding
)

// New returns an idle pipeline.
func New(c Capture, r Remote, opts ...Option) *Pipeline {
	p := &Pipeline{
		capture:  c,
		remote:   r,
		paster:   nopPaster{},
		settings: func() remote.Settings { return remote.Settings{} },
		snapper:  vocab.New(),
		bufSize:  DefaultOutcomeBuffer,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.outcomes = make(chan Outcome, p.bufSize)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// Outcomes returns the channel on which every finished utterance is reported.
// It has a single consumer, the control loop.
func (p *Pipeline) Outcomes() <-chan Outcome { return p.outcomes }

// State returns the current state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// History returns a copy of the accepted conversation turns.
func (p *Pipeline) History() []types.Turn {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := make([]types.Turn, len(p.history))
	copy(h, p.history)
	return h
}

// StartCapture begins recording in the given mode. The mode is latched until
// the utterance ends. A device failure leaves the pipeline idle and is
// reported both as the returned error and as a Failed outcome.
func (p *Pipeline) StartCapture(mode types.Mode) error {
	if !mode.IsValid() {
		return fmt.Errorf("dictation: invalid mode %q", mode)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	switch {
	case p.state == Recording:
		p.mu.Unlock()
		return audio.ErrAlreadyRecording
	case p.state == Transcribing, p.state == Correcting, p.pending != opNone:
		p.mu.Unlock()
		return ErrBusy
	}
	p.pending = opStarting
	p.mode = mode
	gen := p.gen
	p.mu.Unlock()

	err := p.capture.Start()

	p.mu.Lock()
	p.pending = opNone
	if gen != p.gen {
		p.mu.Unlock()
		if err == nil {
			p.capture.Discard()
		}
		slog.Debug("dictation: capture start superseded", "gen", gen)
		return nil
	}
	if err != nil {
		p.mu.Unlock()
		ferr := fault.New(fault.AudioDeviceError, "dictation: start capture", err)
		p.finish(Outcome{Gen: gen, Mode: mode, State: Failed, Kind: fault.AudioDeviceError, Err: ferr})
		return ferr
	}
	p.state = Recording
	p.mu.Unlock()

	slog.Debug("dictation: recording", "mode", mode)
	return nil
}

// StopCapture finalizes the recording and dispatches it to a worker. It is a
// no-op when not recording, and returns to Idle silently when nothing was
// captured.
func (p *Pipeline) StopCapture() error {
	p.mu.Lock()
	if p.state != Recording || p.pending != opNone {
		p.mu.Unlock()
		return nil
	}
	p.pending = opStopping
	gen, mode := p.gen, p.mode
	p.mu.Unlock()

	u, err := p.capture.Stop()

	p.mu.Lock()
	p.pending = opNone
	if gen != p.gen {
		p.mu.Unlock()
		if u != nil {
			if rerr := u.Release(); rerr != nil {
				slog.Warn("dictation: release utterance", "seq", u.Seq(), "err", rerr)
			}
		}
		slog.Debug("dictation: stopped capture superseded", "gen", gen)
		return nil
	}
	if err != nil {
		p.state = Idle
		p.mu.Unlock()
		ferr := fault.New(fault.AudioDeviceError, "dictation: stop capture", err)
		p.finish(Outcome{Gen: gen, Mode: mode, State: Failed, Kind: fault.AudioDeviceError, Err: ferr})
		return ferr
	}
	if u == nil {
		p.state = Idle
		p.mu.Unlock()
		slog.Info("dictation: no audio captured")
		return nil
	}

	p.state = Transcribing
	p.seq = u.Seq()
	req := remote.NewRequest(u, p.history, mode, p.settings())
	p.wg.Add(1)
	p.mu.Unlock()

	p.metrics.RecordingDuration.Record(p.ctx, u.Seconds())
	go p.process(gen, req)
	return nil
}

// Toggle starts recording when idle and stops it when recording. While an
// utterance is in flight it returns [ErrBusy].
func (p *Pipeline) Toggle(mode types.Mode) error {
	switch p.State() {
	case Recording:
		return p.StopCapture()
	default:
		return p.StartCapture(mode)
	}
}

// Cancel abandons the current utterance. A recording is discarded; an
// in-flight utterance keeps running but its result is ignored. A capture
// start or stop still in progress is abandoned the same way. It reports
// whether anything was cancelled.
func (p *Pipeline) Cancel() bool {
	p.mu.Lock()
	var (
		o       Outcome
		discard bool
	)
	switch {
	case p.pending == opStarting, p.pending == opStopping:
		o = Outcome{Gen: p.gen, Mode: p.mode, State: Cancelled}
	case p.pending == opDiscarding:
		p.mu.Unlock()
		return false
	case p.state == Recording:
		o = Outcome{Gen: p.gen, Mode: p.mode, State: Cancelled}
		p.pending = opDiscarding
		discard = true
	case p.state == Transcribing, p.state == Correcting:
		o = Outcome{Seq: p.seq, Gen: p.gen, Mode: p.mode, State: Cancelled}
	default:
		p.mu.Unlock()
		return false
	}
	p.gen++
	p.state = Idle
	p.mu.Unlock()

	if discard {
		p.capture.Discard()
		p.mu.Lock()
		p.pending = opNone
		p.mu.Unlock()
	}

	slog.Info("dictation: cancelled", "seq", o.Seq, "gen", o.Gen)
	p.finish(o)
	return true
}

// Close discards any recording and waits for in-flight workers. When ctx
// expires first the workers' remote calls are aborted and ctx.Err() is
// returned.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	discard := p.state == Recording && p.pending == opNone
	if p.state == Recording || p.pending != opNone {
		p.gen++
		p.state = Idle
	}
	p.mu.Unlock()

	if discard {
		p.capture.Discard()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.cancel()
		<-done
	}
	p.cancel()
	return err
}

// process runs one utterance to completion on its own goroutine.
func (p *Pipeline) process(gen uint64, req remote.Request) {
	defer p.wg.Done()
	u := req.Utterance
	defer func() {
		if err := u.Release(); err != nil {
			slog.Warn("dictation: release utterance", "seq", u.Seq(), "err", err)
		}
	}()

	ctx, span := observe.StartSpan(p.ctx, "dictation.utterance")
	defer span.End()
	log := observe.Logger(ctx).With("seq", u.Seq(), "gen", gen, "mode", req.Mode)

	p.metrics.ActiveWorkers.Add(ctx, 1)
	defer p.metrics.ActiveWorkers.Add(ctx, -1)

	base := Outcome{Seq: u.Seq(), Gen: gen, Mode: req.Mode}

	tr, err := p.remote.Transcribe(ctx, req)
	p.recordUsage(tr.Usage)
	usage := tr.Usage
	if err != nil {
		o := base
		o.Usage = usage
		if errors.Is(err, context.Canceled) {
			o.State = Cancelled
		} else {
			o.State = Failed
			o.Kind = kindOf(err, fault.TranscriptionFailed)
			o.Err = err
		}
		log.Warn("dictation: transcription failed", "err", err)
		p.complete(gen, o)
		return
	}

	text := tr.Text
	if words := req.Settings.Vocabulary; len(words) > 0 {
		snapped, repl := p.snapper.Apply(text, vocab.Prepare(words))
		for _, r := range repl {
			log.Debug("dictation: vocabulary match", "original", r.Original, "term", r.Term, "score", r.Score)
		}
		text = snapped
	}

	if strings.TrimSpace(text) == "" {
		log.Info("dictation: empty transcription")
		o := base
		o.State = Done
		o.Usage = usage
		p.complete(gen, o)
		return
	}

	if !p.advance(gen, Correcting) {
		log.Debug("dictation: stale transcription dropped")
		p.metrics.RecordUtterance(ctx, "discarded")
		return
	}

	cr, err := p.remote.CorrectOrTranslate(ctx, req, text)
	p.recordUsage(cr.Usage)
	usage = usage.Add(cr.Usage)
	if err != nil {
		o := base
		o.State = Cancelled
		o.Usage = usage
		p.complete(gen, o)
		return
	}

	o := base
	o.State = Done
	o.Text = cr.Text
	o.Usage = usage
	if cr.Fallback {
		o.Kind = fault.CorrectionFailed
		o.Err = cr.Cause
		log.Warn("dictation: correction failed, pasting transcript", "err", cr.Cause)
	}
	p.complete(gen, o)
}

// advance moves to next if gen is still current.
func (p *Pipeline) advance(gen uint64, next State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return false
	}
	p.state = next
	return true
}

// complete accepts a worker result if gen is still current: accepted
// corrections join the history, the text is pasted and the outcome emitted.
// Stale results are dropped, their Cancelled outcome was already emitted.
func (p *Pipeline) complete(gen uint64, o Outcome) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		slog.Debug("dictation: stale result dropped", "seq", o.Seq, "gen", gen)
		p.metrics.RecordUtterance(p.ctx, "discarded")
		return
	}
	if o.State == Done && o.Kind == "" && o.Text != "" {
		p.history = append(p.history, types.Turn{Text: o.Text, IsBot: true})
	}
	p.state = Idle
	p.mu.Unlock()

	if o.State == Done && o.Text != "" {
		if err := p.paster.Paste(p.ctx, o.Text); err != nil {
			slog.Error("dictation: paste failed", "seq", o.Seq, "err", err)
			if o.Err == nil {
				o.Err = err
			}
		}
	}
	p.finish(o)
}

// finish notifies and emits o.
func (p *Pipeline) finish(o Outcome) {
	p.metrics.RecordUtterance(p.ctx, outcomeLabel(o))
	if p.notifier != nil && (o.State == Failed || o.Warning()) {
		p.notifier.Notify(o)
	}
	select {
	case p.outcomes <- o:
	case <-p.ctx.Done():
		slog.Warn("dictation: outcome dropped after shutdown", "seq", o.Seq, "state", o.State)
	}
}

func (p *Pipeline) recordUsage(u types.Usage) {
	if p.usage == nil || u.IsZero() {
		return
	}
	if err := p.usage.Record(u); err != nil {
		slog.Warn("dictation: record usage", "err", err)
	}
}

func kindOf(err error, fallback fault.Kind) fault.Kind {
	if k, ok := fault.KindOf(err); ok {
		return k
	}
	return fallback
}

func outcomeLabel(o Outcome) string {
	switch {
	case o.State == Failed:
		return "failed"
	case o.State == Cancelled:
		return "cancelled"
	case o.Warning():
		return "fallback"
	case o.Text == "":
		return "empty"
	default:
		return "pasted"
	}
}

type nopPaster struct{}

func (nopPaster) Paste(context.Context, string) error { return nil }
