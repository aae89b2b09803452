// Package app wires all S-Flow subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the control loop, and Shutdown tears everything
// down in order.
//
// For testing, inject doubles via functional options (WithCapture,
// WithHotkeys, WithPaster, etc.). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/sflow/internal/config"
	"github.com/MrWong99/sflow/internal/dictation"
	"github.com/MrWong99/sflow/internal/health"
	"github.com/MrWong99/sflow/internal/hotkey"
	"github.com/MrWong99/sflow/internal/notify"
	"github.com/MrWong99/sflow/internal/observe"
	"github.com/MrWong99/sflow/internal/paste"
	"github.com/MrWong99/sflow/internal/remote"
	"github.com/MrWong99/sflow/internal/usage"
	"github.com/MrWong99/sflow/internal/vocab"
	"github.com/MrWong99/sflow/pkg/audio"
	"github.com/MrWong99/sflow/pkg/audio/portaudio"
	"github.com/MrWong99/sflow/pkg/provider/llm"
	"github.com/MrWong99/sflow/pkg/provider/stt"
	"github.com/MrWong99/sflow/pkg/types"
)

// tempMaxAge is the age after which leftover capture files are swept at
// startup.
const tempMaxAge = time.Hour

// Providers holds one interface value per remote stage. Populated by main.go
// via the config registry.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
}

// Hotkeys delivers hotkey presses. [hotkey.Listener] is the real one.
type Hotkeys interface {
	Run(ctx context.Context) error
	Actions() <-chan hotkey.Action
}

// delaySetter and restoreSetter are the live-reload hooks of [paste.Paster].
type (
	delaySetter   interface{ SetDelay(time.Duration) }
	restoreSetter interface{ SetRestore(bool) }
)

// notifyConfigurer is the live-reload hook of [notify.Notifier].
type notifyConfigurer interface {
	Configure(notify.Locale, bool)
}

// App owns all subsystem lifetimes and runs the dictation control loop.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	level    *slog.LevelVar
	metrics  *observe.Metrics
	gatherer prometheus.Gatherer

	// Subsystems, initialised in New and torn down in Shutdown.
	capture  dictation.Capture
	client   *remote.Client
	paster   dictation.Paster
	notifier dictation.Notifier
	tracker  *usage.Tracker
	pipeline *dictation.Pipeline
	hotkeys  Hotkeys
	server   *health.Server

	reloads  chan *config.Config
	loopDone chan struct{}

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCapture injects an audio capture instead of opening a PortAudio device.
func WithCapture(c dictation.Capture) Option {
	return func(a *App) { a.capture = c }
}

// WithHotkeys injects a hotkey source instead of registering system hotkeys.
func WithHotkeys(h Hotkeys) Option {
	return func(a *App) { a.hotkeys = h }
}

// WithPaster injects a paster instead of the clipboard paster.
func WithPaster(p dictation.Paster) Option {
	return func(a *App) { a.paster = p }
}

// WithNotifier injects a notifier instead of desktop notifications.
func WithNotifier(n dictation.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithUsageTracker injects a usage tracker instead of opening the configured
// stats file.
func WithUsageTracker(t *usage.Tracker) Option {
	return func(a *App) { a.tracker = t }
}

// WithLevelVar lets config reloads change the log level.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithGatherer exposes g on the status server's /metrics route.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *App) { a.gatherer = g }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.LLM == nil {
		return nil, errors.New("app: stt and llm providers are required")
	}
	a := &App{
		providers: providers,
		reloads:   make(chan *config.Config),
		loopDone:  make(chan struct{}),
	}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Remote client ─────────────────────────────────────────────────
	a.client = remote.New(providers.STT, providers.LLM,
		remote.WithPolicy(cfg.RetryPolicy()),
		remote.WithMetrics(a.metrics),
		remote.WithProviderNames(cfg.Providers.STT.Name, cfg.Providers.LLM.Name),
		remote.WithRetryHook(func(op string, n int, err error, delay time.Duration) {
			observe.Logger(ctx).Info("remote: retrying", "op", op, "attempt", n, "delay", delay, "err", err)
		}),
	)

	// ── 2. Audio capture ─────────────────────────────────────────────────
	if err := a.initCapture(cfg); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 3. Usage statistics ──────────────────────────────────────────────
	if err := a.initUsage(cfg); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init usage: %w", err)
	}

	// ── 4. Output: paste + notifications ─────────────────────────────────
	if a.paster == nil {
		a.paster = paste.New(
			paste.WithDelay(cfg.Dictation.PasteDelay),
			paste.WithRestore(cfg.Dictation.RestoreClipboard),
		)
	}
	if a.notifier == nil {
		a.notifier = notify.New(
			notify.WithLocale(cfg.Notifications.Locale),
			notify.WithEnabled(cfg.Notifications.Enabled),
		)
	}

	// ── 5. Dictation pipeline ────────────────────────────────────────────
	a.pipeline = dictation.New(a.capture, a.client,
		dictation.WithPaster(a.paster),
		dictation.WithNotifier(a.notifier),
		dictation.WithUsage(a.tracker),
		dictation.WithSettings(a.settings),
		dictation.WithSnapper(vocab.New()),
		dictation.WithMetrics(a.metrics),
	)

	// ── 6. Hotkeys ───────────────────────────────────────────────────────
	if a.hotkeys == nil {
		l, err := hotkey.NewListener(cfg.Bindings())
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init hotkeys: %w", err)
		}
		a.hotkeys = l
	}

	// ── 7. Status server ─────────────────────────────────────────────────
	if addr := cfg.Server.ListenAddr; addr != "" {
		h := health.New(
			health.Checker{Name: "api_key", Check: a.checkAPIKey},
			health.Checker{Name: "pipeline", Check: a.checkPipeline},
		).WithStatus(func(context.Context) any { return a.Status() })
		a.server = health.NewServer(addr, h, a.gatherer, a.metrics)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initCapture sweeps leftover temp files and opens the PortAudio device
// unless a capture was injected.
func (a *App) initCapture(cfg *config.Config) error {
	dir := cfg.Audio.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if n, err := audio.SweepTemp(dir, tempMaxAge); err != nil {
		slog.Warn("app: temp sweep incomplete", "dir", dir, "err", err)
	} else if n > 0 {
		slog.Info("app: removed leftover recordings", "dir", dir, "count", n)
	}

	if a.capture != nil {
		return nil
	}
	if err := portaudio.Init(); err != nil {
		return err
	}
	a.closers = append(a.closers, portaudio.Terminate)

	dev := portaudio.New(portaudio.WithDeviceName(cfg.Audio.Device))
	a.capture = audio.NewCapture(dev,
		audio.WithFormat(cfg.AudioFormat()),
		audio.WithTempDir(cfg.Audio.TempDir),
	)
	return nil
}

// initUsage opens the stats file unless a tracker was injected.
func (a *App) initUsage(cfg *config.Config) error {
	if a.tracker != nil {
		return nil
	}
	path := cfg.Usage.Path
	if path == "" {
		p, err := usage.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	t, err := usage.Open(path)
	if err != nil {
		return err
	}
	a.tracker = t
	return nil
}

// settings is the per-utterance snapshot read by the pipeline.
func (a *App) settings() remote.Settings {
	return a.cfg.Load().Settings()
}

func (a *App) checkAPIKey(context.Context) error {
	if a.settings().APIKey == "" {
		return errors.New("providers.stt.api_key is not set")
	}
	return nil
}

func (a *App) checkPipeline(context.Context) error {
	select {
	case <-a.loopDone:
		return errors.New("control loop stopped")
	default:
		return nil
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the hotkey listener, the status server and the control loop and
// blocks until ctx is cancelled or one of them fails. When ctx is done, Run
// returns context.Canceled (or the underlying cause).
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hotkeys.Run(ctx) })
	if a.server != nil {
		g.Go(func() error { return a.server.Run(ctx) })
	}
	g.Go(func() error { return a.loop(ctx) })

	slog.Info("app running",
		"stt", a.cfg.Load().Providers.STT.Name,
		"llm", a.cfg.Load().Providers.LLM.Name,
	)
	return g.Wait()
}

// loop is the single consumer of hotkey actions, pipeline outcomes and
// config reloads.
func (a *App) loop(ctx context.Context) error {
	defer close(a.loopDone)
	actions := a.hotkeys.Actions()
	outcomes := a.pipeline.Outcomes()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case act := <-actions:
			a.handleAction(act)
		case o := <-outcomes:
			logOutcome(o)
		case cfg := <-a.reloads:
			a.applyConfig(cfg)
		}
	}
}

// handleAction maps a hotkey press to a pipeline operation.
func (a *App) handleAction(act hotkey.Action) {
	var err error
	switch act {
	case hotkey.ActionDictate:
		err = a.pipeline.Toggle(types.ModeCorrection)
	case hotkey.ActionTranslate:
		err = a.pipeline.Toggle(types.ModeTranslation)
	case hotkey.ActionCancel:
		if a.pipeline.Cancel() {
			slog.Info("dictation: cancelled by hotkey")
		}
		return
	default:
		slog.Warn("app: unknown hotkey action", "action", act)
		return
	}

	switch {
	case err == nil:
		slog.Debug("dictation: hotkey handled", "action", act, "state", a.pipeline.State())
	case errors.Is(err, dictation.ErrBusy):
		slog.Info("dictation: still processing the previous utterance, press ignored", "action", act)
	default:
		slog.Warn("dictation: hotkey failed", "action", act, "err", err)
	}
}

func logOutcome(o dictation.Outcome) {
	switch {
	case o.State == dictation.Failed:
		slog.Warn("dictation: failed", "seq", o.Seq, "mode", o.Mode, "kind", o.Kind, "err", o.Err)
	case o.State == dictation.Cancelled:
		slog.Info("dictation: cancelled", "seq", o.Seq, "mode", o.Mode)
	case o.Warning():
		slog.Warn("dictation: pasted uncorrected transcript", "seq", o.Seq, "mode", o.Mode, "kind", o.Kind, "err", o.Err)
	case o.Text == "":
		slog.Info("dictation: nothing recognised", "seq", o.Seq, "mode", o.Mode)
	default:
		slog.Info("dictation: done", "seq", o.Seq, "mode", o.Mode, "chars", len([]rune(o.Text)),
			"audio_seconds", o.Usage.AudioSeconds, "tokens", o.Usage.PromptTokens+o.Usage.CompletionTokens)
		if o.Err != nil {
			slog.Warn("dictation: paste failed", "seq", o.Seq, "err", o.Err)
		}
	}
}

// ─── Config reload ───────────────────────────────────────────────────────────

// Reload hands a new config to the control loop. It is meant as the
// [config.Watcher] callback and blocks until the loop takes cfg or stops.
func (a *App) Reload(cfg *config.Config) {
	select {
	case a.reloads <- cfg:
	case <-a.loopDone:
	}
}

// applyConfig swaps in cfg and pushes the live settings to the subsystems.
// Dictation settings need no push: the pipeline snapshots them per utterance.
func (a *App) applyConfig(cfg *config.Config) {
	old := a.cfg.Swap(cfg)
	d := config.Diff(old, cfg)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("config: log level changed", "level", d.NewLogLevel)
	}
	if d.DictationChanged {
		slog.Info("config: dictation settings apply from the next utterance")
	}
	if d.PasteChanged {
		if s, ok := a.paster.(delaySetter); ok {
			s.SetDelay(cfg.Dictation.PasteDelay)
		}
		if s, ok := a.paster.(restoreSetter); ok {
			s.SetRestore(cfg.Dictation.RestoreClipboard)
		}
		slog.Info("config: paste settings updated", "delay", cfg.Dictation.PasteDelay, "restore", cfg.Dictation.RestoreClipboard)
	}
	if d.NotificationsChanged {
		if c, ok := a.notifier.(notifyConfigurer); ok {
			c.Configure(cfg.Notifications.Locale, cfg.Notifications.Enabled)
		}
		slog.Info("config: notification settings updated", "enabled", cfg.Notifications.Enabled, "locale", cfg.Notifications.Locale)
	}
	if d.PricingChanged {
		slog.Info("config: pricing updated")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config: some changes take effect only after a restart", "sections", d.RestartRequired)
	}
}

// ─── Status ──────────────────────────────────────────────────────────────────

// Status is the snapshot served on /status.
type Status struct {
	State         string       `json:"state"`
	HistoryTurns  int          `json:"history_turns"`
	Usage         usage.Totals `json:"usage"`
	EstimatedCost float64      `json:"estimated_cost_usd"`
}

// Status reports the pipeline state and usage totals.
func (a *App) Status() Status {
	totals := a.tracker.Snapshot()
	return Status{
		State:         a.pipeline.State().String(),
		HistoryTurns:  len(a.pipeline.History()),
		Usage:         totals,
		EstimatedCost: totals.Costs(a.cfg.Load().Usage.Pricing).Total(),
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline and tears down all subsystems in order. It
// respects the context deadline: in-flight utterances are aborted when ctx
// expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.pipeline.Close(ctx); err != nil {
			slog.Warn("pipeline close error", "err", err)
			shutdownErr = err
		}
		a.closeAll()

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) closeAll() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
