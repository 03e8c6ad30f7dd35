package rerouter

import (
	"encoding/json"
	"time"
)

// StateName is the document name under the state directory.
const StateName = "rerouter_state"

const errorCap = 5

// AgentFailure tracks consecutive failures of one agent identity.
type AgentFailure struct {
	Count      int       `json:"count"`
	Errors     []string  `json:"errors,omitempty"`
	LastFailed time.Time `json:"lastFailed"`
}

// RerouterState carries the advisory trackers: per-agent failure
// streaks, task start times for stall detection, and per-model usage
// counters.
type RerouterState struct {
	AgentFailures  map[string]*AgentFailure `json:"agentFailures,omitempty"`
	TaskStartTimes map[string]time.Time     `json:"taskStartTimes,omitempty"`
	ModelUsage     map[string]int           `json:"modelUsage,omitempty"`
}

func (s *RerouterState) Reset() {
	*s = RerouterState{}
}

func (s *RerouterState) Schema() []byte {
	// Map values are left unconstrained: a malformed entry is dropped
	// by the filtered decode instead of rejecting the whole document.
	return []byte(`{
		"type": "object",
		"properties": {
			"agentFailures": {"type": "object"},
			"taskStartTimes": {"type": "object"},
			"modelUsage": {"type": "object"}
		}
	}`)
}

// DecodeFiltered copies only the known fields, dropping unparsable
// timestamps and trimming oversized error tails.
func (s *RerouterState) DecodeFiltered(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["agentFailures"]; ok {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(v, &entries); err != nil {
			return err
		}
		s.AgentFailures = make(map[string]*AgentFailure, len(entries))
		for agent, rawRec := range entries {
			rec := &AgentFailure{}
			if json.Unmarshal(rawRec, rec) != nil {
				continue // malformed record, discard
			}
			if len(rec.Errors) > errorCap {
				rec.Errors = rec.Errors[len(rec.Errors)-errorCap:]
			}
			s.AgentFailures[agent] = rec
		}
	}
	if v, ok := raw["taskStartTimes"]; ok {
		var stamps map[string]json.RawMessage
		if err := json.Unmarshal(v, &stamps); err != nil {
			return err
		}
		s.TaskStartTimes = make(map[string]time.Time, len(stamps))
		for task, rawStamp := range stamps {
			var stamp string
			if json.Unmarshal(rawStamp, &stamp) != nil {
				continue // non-scalar leaf, discard
			}
			at, err := time.Parse(time.RFC3339Nano, stamp)
			if err != nil {
				continue
			}
			s.TaskStartTimes[task] = at
		}
	}
	if v, ok := raw["modelUsage"]; ok {
		var counts map[string]json.RawMessage
		if err := json.Unmarshal(v, &counts); err != nil {
			return err
		}
		s.ModelUsage = make(map[string]int, len(counts))
		for model, rawCount := range counts {
			var n int
			if json.Unmarshal(rawCount, &n) != nil {
				continue // non-integer leaf, discard
			}
			s.ModelUsage[model] = n
		}
	}
	return nil
}

// recordAgentFailure bumps the agent's streak and returns the new count.
func (s *RerouterState) recordAgentFailure(agent, errMsg string, now time.Time) int {
	if s.AgentFailures == nil {
		s.AgentFailures = make(map[string]*AgentFailure)
	}
	rec := s.AgentFailures[agent]
	if rec == nil {
		rec = &AgentFailure{}
		s.AgentFailures[agent] = rec
	}
	rec.Count++
	rec.LastFailed = now
	if errMsg != "" {
		rec.Errors = append(rec.Errors, errMsg)
		if len(rec.Errors) > errorCap {
			rec.Errors = rec.Errors[len(rec.Errors)-errorCap:]
		}
	}
	return rec.Count
}

// recordAgentSuccess clears the agent's streak.
func (s *RerouterState) recordAgentSuccess(agent string) {
	if rec := s.AgentFailures[agent]; rec != nil {
		rec.Count = 0
		rec.Errors = nil
	}
}
