// Package loopguard is the safety-critical engine: it checks every
// spawn request against depth, repetition, budget, and cooldown limits
// over the session's persisted loop state, and denies on violation.
package loopguard

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/basket/spawnguard/internal/audit"
	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/hookio"
	"github.com/basket/spawnguard/internal/shared"
	"github.com/basket/spawnguard/internal/statestore"
)

// Check identifiers, in evaluation order.
const (
	CheckDepth    = "spawn_depth"
	CheckPattern  = "pattern"
	CheckBudget   = "evolution_budget"
	CheckCooldown = "cooldown"
	CheckInternal = "internal"
)

// errViolation signals a block-mode violation out of the mutate
// closure so the state write is skipped.
var errViolation = errors.New("loopguard: check violation")

// Verdict is the outcome of one spawn check.
type Verdict struct {
	Allowed bool
	Warning bool // allowed, but a violation was observed (warn mode)
	Check   string
	Message string
}

// BudgetResult is the evolution-budget check outcome. Remaining never
// goes negative, even after over-budget recording attempts.
type BudgetResult struct {
	Allowed   bool
	Remaining int
}

// EvaluateBudget evaluates the evolution budget as a pure function.
func EvaluateBudget(count, budget int) BudgetResult {
	remaining := budget - count
	if remaining < 0 {
		remaining = 0
	}
	return BudgetResult{Allowed: count < budget, Remaining: remaining}
}

// Guard evaluates spawn requests against the persisted loop state.
type Guard struct {
	store  *statestore.Store
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Guard.
type Option func(*Guard)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New builds a guard over the given store and configuration.
func New(store *statestore.Store, cfg config.Config, logger *slog.Logger, opts ...Option) *Guard {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	g := &Guard{store: store, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckSpawn runs the ordered checks for one spawn request and, when
// the request passes, records it into the loop state under the lock.
// In warn mode a violation is still recorded and reported, but allowed.
// Internal failures deny (fail-closed) unless the audited fail-open
// override is set.
func (g *Guard) CheckSpawn(event *hookio.Event) Verdict {
	session := event.Session()
	mode := g.cfg.Guard.EnforcementMode()
	fingerprint := g.cfg.Fingerprint()

	if mode == config.ModeOff {
		audit.RecordBypass("enforcement mode off", fingerprint, session)
		g.logger.Warn("enforcement bypassed", "session_id", session)
		return Verdict{Allowed: true}
	}

	text := requestText(event)
	evolution := IsEvolutionRequest(text, g.cfg.Classifier)
	category := CategoryUnknown
	if evolution {
		category = Classify(text, g.cfg.Classifier)
	}
	actionKey := actionKey(event, category, text)

	var violation *Verdict
	state := &LoopState{}
	err := g.store.Mutate(StateName, state, func() error {
		state.SessionID = session
		violation = g.evaluate(state, evolution, category, actionKey)
		if violation != nil && mode == config.ModeBlock {
			return errViolation
		}
		g.recordSpawn(state, category, actionKey)
		return nil
	})

	switch {
	case errors.Is(err, errViolation):
		audit.Record("deny", violation.Check, violation.Message, fingerprint, session, actionKey)
		g.logger.Info("spawn denied", "session_id", session, "check", violation.Check, "reason", violation.Message)
		return Verdict{Allowed: false, Check: violation.Check, Message: violation.Message}
	case err != nil:
		if g.cfg.Guard.FailOpen {
			audit.RecordFailOpen(err.Error(), fingerprint, session)
			g.logger.Warn("fail-open override used", "session_id", session, "error", err)
			return Verdict{Allowed: true}
		}
		msg := "loop state unavailable, denying to stay safe"
		audit.Record("deny", CheckInternal, err.Error(), fingerprint, session, actionKey)
		g.logger.Error("internal guard failure", "session_id", session, "error", err)
		return Verdict{Allowed: false, Check: CheckInternal, Message: msg}
	case violation != nil:
		audit.Record("warn", violation.Check, violation.Message, fingerprint, session, actionKey)
		g.logger.Info("spawn allowed with warning", "session_id", session, "check", violation.Check)
		return Verdict{Allowed: true, Warning: true, Check: violation.Check, Message: violation.Message}
	default:
		g.logger.Debug("spawn allowed", "session_id", session, "action", actionKey)
		return Verdict{Allowed: true}
	}
}

// ReleaseDepth is the symmetric decrement a caller issues when a
// spawned unit finishes. Depth never drops below zero.
func (g *Guard) ReleaseDepth(session string) error {
	state := &LoopState{}
	return g.store.Mutate(StateName, state, func() error {
		state.SessionID = session
		if state.SpawnDepth > 0 {
			state.SpawnDepth--
		}
		return nil
	})
}

// ResetState discards the loop state, restoring all counters to zero.
func (g *Guard) ResetState() error {
	return g.store.Reset(StateName, &LoopState{})
}

// evaluate runs the checks in fixed order and returns the first
// violation, or nil when the request passes.
func (g *Guard) evaluate(state *LoopState, evolution bool, category Category, actionKey string) *Verdict {
	gc := g.cfg.Guard
	now := g.now()

	if state.SpawnDepth >= gc.DepthLimit {
		return &Verdict{
			Check:   CheckDepth,
			Message: fmt.Sprintf("spawn depth limit reached (%d/%d)", state.SpawnDepth, gc.DepthLimit),
		}
	}

	if rec := state.actionRecord(actionKey); rec != nil && rec.Count >= gc.PatternThreshold {
		return &Verdict{
			Check:   CheckPattern,
			Message: fmt.Sprintf("action repeated %d times, looks like a loop", rec.Count),
		}
	}

	if evolution {
		if b := EvaluateBudget(state.EvolutionCount, gc.EvolutionBudget); !b.Allowed {
			return &Verdict{
				Check:   CheckBudget,
				Message: fmt.Sprintf("evolution budget exhausted (%d used, %d remaining)", state.EvolutionCount, b.Remaining),
			}
		}
	}

	if category != CategoryUnknown {
		if last, ok := state.LastEvolutions[string(category)]; ok {
			if elapsed := now.Sub(last); elapsed < gc.Cooldown() {
				return &Verdict{
					Check:   CheckCooldown,
					Message: fmt.Sprintf("cooldown active for %s evolutions (%s remaining)", category, (gc.Cooldown() - elapsed).Round(time.Second)),
				}
			}
		}
	}

	return nil
}

// recordSpawn applies the side effects of an accepted spawn.
func (g *Guard) recordSpawn(state *LoopState, category Category, actionKey string) {
	now := g.now().UTC()
	state.SpawnDepth++
	state.recordAction(actionKey, now)
	if category != CategoryUnknown {
		state.EvolutionCount++
		if state.LastEvolutions == nil {
			state.LastEvolutions = make(map[string]time.Time)
		}
		state.LastEvolutions[string(category)] = now
	}
}

// requestText joins the free-text fields the classifier sees.
func requestText(event *hookio.Event) string {
	parts := make([]string, 0, 2)
	if p := event.PromptText(); p != "" {
		parts = append(parts, p)
	}
	if d := event.Description(); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, " ")
}

// actionKey synthesizes the repetition-detection key: the category (or
// tool) plus a content fingerprint of the request text, so the same
// request issued repeatedly collides regardless of whitespace or case.
func actionKey(event *hookio.Event, category Category, text string) string {
	kind := string(category)
	if kind == "" {
		kind = event.Tool()
	}
	if kind == "" {
		kind = "task"
	}
	return fmt.Sprintf("%s:%s", kind, shared.Fingerprint(text))
}
