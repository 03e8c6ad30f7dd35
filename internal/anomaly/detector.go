package anomaly

import (
	"io"
	"log/slog"
	"time"

	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/hookio"
	"github.com/basket/spawnguard/internal/shared"
	"github.com/basket/spawnguard/internal/statestore"
)

// Detector runs every applicable pure detector over one event, feeds
// the rolling baselines, and appends notable findings to the anomaly
// log. It is strictly advisory: any internal failure degrades to "no
// detections" and the caller always reports success.
type Detector struct {
	store  *statestore.Store
	cfg    config.Config
	log    *Log
	logger *slog.Logger
	memory MemoryProbe
	now    func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithMemoryProbe substitutes the memory probe, for tests.
func WithMemoryProbe(probe MemoryProbe) Option {
	return func(d *Detector) { d.memory = probe }
}

// New builds a detector over the given store and configuration. The
// anomaly log lives under cfg.HomeDir.
func New(store *statestore.Store, cfg config.Config, logger *slog.Logger, opts ...Option) *Detector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Detector{
		store:  store,
		cfg:    cfg,
		logger: logger,
		memory: ProcMemInfo{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = NewLog(cfg.HomeDir, d.now)
	return d
}

// Check observes one event. The returned detections include
// non-detections, so callers can report what was examined; only
// notable ones reach the log.
func (d *Detector) Check(event *hookio.Event) []Detection {
	if !d.cfg.AnomalyEnabled() {
		return nil
	}
	ac := d.cfg.Anomaly
	var detections []Detection

	state := &AnomalyState{}
	err := d.store.Mutate(StateName, state, func() error {
		now := d.now().UTC()

		if tokens, ok := event.TokenUsage(); ok {
			detections = append(detections, DetectTokenExplosion(tokens, average(state.TokenHistory), ac.TokenMultiplier))
			state.RecordToken(tokens)
		}
		if duration, ok := event.DurationSeconds(); ok {
			detections = append(detections, DetectDurationSpike(duration, average(state.DurationHistory), ac.DurationMultiplier))
			state.RecordDuration(duration)
		}
		if tool := event.Tool(); tool != "" {
			if ok, reported := event.Succeeded(); reported {
				if ok {
					state.RecordSuccess(tool)
				} else {
					count := state.RecordFailure(tool, shared.Redact(event.Error), now)
					detections = append(detections, DetectRepeatedFailure(tool, count, ac.FailureThreshold))
				}
			}
		}
		if prompt := event.PromptText(); prompt != "" {
			prior := state.ObservePrompt(shared.Fingerprint(prompt), now)
			detections = append(detections, DetectLoopRisk(prior, ac.LoopThreshold))
		}
		return nil
	})
	if err != nil {
		// Advisory path: drop the update, keep whatever was computed.
		d.logger.Debug("anomaly state update dropped", "error", err)
		detections = nil
	}

	if ratio, merr := d.memory.UsedRatio(); merr == nil {
		detections = append(detections, DetectResourcePressure(ratio))
	} else {
		d.logger.Debug("memory probe unavailable", "error", merr)
	}

	d.log.Append(event.Session(), event.Tool(), detections)
	for _, det := range detections {
		if det.notable() {
			d.logger.Info("anomaly detected", "type", det.Type, "severity", det.Severity, "message", det.Message)
		}
	}
	return detections
}

// ResetState discards the rolling baselines.
func (d *Detector) ResetState() error {
	return d.store.Reset(StateName, &AnomalyState{})
}
