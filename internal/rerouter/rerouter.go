// Package rerouter is the advisory suggestion engine: it watches
// failures, model usage, and task ages and proposes alternatives. It
// never blocks anything; every internal failure is a silent no-op.
package rerouter

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"time"

	"github.com/basket/spawnguard/internal/config"
	"github.com/basket/spawnguard/internal/hookio"
	"github.com/basket/spawnguard/internal/shared"
	"github.com/basket/spawnguard/internal/statestore"
)

// Suggestion types.
const (
	TypeAlternativeAgent = "alternative_agent"
	TypeCreateCapability = "create_capability"
	TypeModelDowngrade   = "model_downgrade"
	TypeDecomposeTask    = "decompose_task"
)

// capabilityPattern extracts the capability name from framework error
// strings of the form: capability "name" not found.
var capabilityPattern = regexp.MustCompile(`capability "([^"]+)" not found`)

// Suggestion is one advisory output: a human-readable message plus the
// structured fields an orchestrator can act on.
type Suggestion struct {
	Type     string            `json:"type"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Rerouter evaluates one event against the persisted advisory state.
type Rerouter struct {
	store  *statestore.Store
	cfg    config.Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Rerouter.
type Option func(*Rerouter)

// WithClock substitutes the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Rerouter) { r.now = now }
}

// New builds a rerouter over the given store and configuration.
func New(store *statestore.Store, cfg config.Config, logger *slog.Logger, opts ...Option) *Rerouter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Rerouter{store: store, cfg: cfg, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check observes one event and returns any suggestions it produces.
// A state failure drops the update and returns nothing.
func (r *Rerouter) Check(event *hookio.Event) []Suggestion {
	if !r.cfg.RerouteEnabled() {
		return nil
	}
	rc := r.cfg.Rerouter
	var suggestions []Suggestion

	state := &RerouterState{}
	err := r.store.Mutate(StateName, state, func() error {
		now := r.now().UTC()

		if agent := event.AgentID(); agent != "" {
			if ok, reported := event.Succeeded(); reported {
				if ok {
					state.recordAgentSuccess(agent)
				} else {
					count := state.recordAgentFailure(agent, shared.Redact(event.Error), now)
					if count >= rc.FailureThreshold {
						alternative := rc.Alternatives[agent]
						if alternative == "" {
							alternative = rc.DefaultAlternative
						}
						suggestions = append(suggestions, Suggestion{
							Type:    TypeAlternativeAgent,
							Message: fmt.Sprintf("agent %s has failed %d times, consider routing to %s", agent, count, alternative),
							Metadata: map[string]string{
								"agent":       agent,
								"alternative": alternative,
							},
						})
					}
				}
			}
		}

		if model := event.ModelID(); model != "" {
			if state.ModelUsage == nil {
				state.ModelUsage = make(map[string]int)
			}
			state.ModelUsage[model]++
			if r.isHighCost(model) && state.ModelUsage[model] >= rc.ModelUsageThreshold {
				downgrade := rc.Downgrades[model]
				if downgrade == "" {
					downgrade = "a lower-cost model"
				}
				suggestions = append(suggestions, Suggestion{
					Type:    TypeModelDowngrade,
					Message: fmt.Sprintf("model %s used %d times this session, consider switching to %s", model, state.ModelUsage[model], downgrade),
					Metadata: map[string]string{
						"model":     model,
						"downgrade": downgrade,
					},
				})
			}
		}

		if task := event.TaskID; task != "" {
			if state.TaskStartTimes == nil {
				state.TaskStartTimes = make(map[string]time.Time)
			}
			if start, seen := state.TaskStartTimes[task]; !seen {
				state.TaskStartTimes[task] = now
			} else if age := now.Sub(start); age > rc.StallAfter() {
				suggestions = append(suggestions, Suggestion{
					Type:    TypeDecomposeTask,
					Message: fmt.Sprintf("task %s has been running for %s, consider decomposing it into smaller units", task, age.Round(time.Second)),
					Metadata: map[string]string{
						"task": task,
						"age":  age.Round(time.Second).String(),
					},
				})
			}
		}

		return nil
	})
	if err != nil {
		r.logger.Debug("rerouter state update dropped", "error", err)
		return r.statelessSuggestions(event)
	}

	suggestions = append(suggestions, r.statelessSuggestions(event)...)
	for _, s := range suggestions {
		r.logger.Info("reroute suggestion", "type", s.Type, "message", s.Message)
	}
	return suggestions
}

// statelessSuggestions covers checks that need no persisted state, so
// they still work when the store is unavailable.
func (r *Rerouter) statelessSuggestions(event *hookio.Event) []Suggestion {
	match := capabilityPattern.FindStringSubmatch(event.Error)
	if match == nil {
		return nil
	}
	capability := match[1]
	return []Suggestion{{
		Type:    TypeCreateCapability,
		Message: fmt.Sprintf("capability %q is missing, consider creating it with a create skill request", capability),
		Metadata: map[string]string{
			"capability": capability,
		},
	}}
}

// ResetState discards the advisory trackers.
func (r *Rerouter) ResetState() error {
	return r.store.Reset(StateName, &RerouterState{})
}

func (r *Rerouter) isHighCost(model string) bool {
	for _, m := range r.cfg.Rerouter.HighCostModels {
		if m == model {
			return true
		}
	}
	return false
}
