package loopguard

import (
	"encoding/json"
	"time"
)

// StateName is the document name under the state directory.
const StateName = "loop_state"

// ActionRecord counts how often one synthesized action key has been
// requested in this session.
type ActionRecord struct {
	Action string    `json:"action"`
	Count  int       `json:"count"`
	LastAt time.Time `json:"lastAt"`
}

// LoopState is the per-session document the guard checks and records
// against. spawnDepth never goes below zero; evolutionCount only grows
// except on explicit reset.
type LoopState struct {
	SessionID      string               `json:"sessionId"`
	EvolutionCount int                  `json:"evolutionCount"`
	LastEvolutions map[string]time.Time `json:"lastEvolutions,omitempty"`
	SpawnDepth     int                  `json:"spawnDepth"`
	ActionHistory  []ActionRecord       `json:"actionHistory,omitempty"`
}

func (s *LoopState) Reset() {
	*s = LoopState{}
}

func (s *LoopState) Schema() []byte {
	// lastEvolutions values are left unconstrained: a malformed stamp
	// is dropped by the filtered decode instead of wiping the live
	// counters the guard depends on.
	return []byte(`{
		"type": "object",
		"properties": {
			"sessionId": {"type": "string"},
			"evolutionCount": {"type": "integer", "minimum": 0},
			"lastEvolutions": {"type": "object"},
			"spawnDepth": {"type": "integer", "minimum": 0},
			"actionHistory": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"action": {"type": "string"},
						"count": {"type": "integer", "minimum": 0},
						"lastAt": {"type": "string"}
					}
				}
			}
		}
	}`)
}

// DecodeFiltered copies only the known fields out of raw on-disk JSON.
// Unknown top-level keys, unparsable timestamps, and malformed history
// entries are dropped rather than failing the load.
func (s *LoopState) DecodeFiltered(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["sessionId"]; ok {
		_ = json.Unmarshal(v, &s.SessionID)
	}
	if v, ok := raw["evolutionCount"]; ok {
		if err := json.Unmarshal(v, &s.EvolutionCount); err != nil {
			return err
		}
	}
	if v, ok := raw["spawnDepth"]; ok {
		if err := json.Unmarshal(v, &s.SpawnDepth); err != nil {
			return err
		}
	}
	if v, ok := raw["lastEvolutions"]; ok {
		var stamps map[string]json.RawMessage
		if err := json.Unmarshal(v, &stamps); err != nil {
			return err
		}
		s.LastEvolutions = make(map[string]time.Time, len(stamps))
		for category, rawStamp := range stamps {
			var stamp string
			if json.Unmarshal(rawStamp, &stamp) != nil {
				continue // non-scalar leaf, discard
			}
			at, err := time.Parse(time.RFC3339Nano, stamp)
			if err != nil {
				continue
			}
			s.LastEvolutions[category] = at
		}
	}
	if v, ok := raw["actionHistory"]; ok {
		var records []ActionRecord
		if err := json.Unmarshal(v, &records); err != nil {
			return err
		}
		s.ActionHistory = records
	}
	if s.SpawnDepth < 0 {
		s.SpawnDepth = 0
	}
	return nil
}

// actionRecord finds the history entry for key, if present.
func (s *LoopState) actionRecord(key string) *ActionRecord {
	for i := range s.ActionHistory {
		if s.ActionHistory[i].Action == key {
			return &s.ActionHistory[i]
		}
	}
	return nil
}

// recordAction increments (or creates) the history entry for key.
func (s *LoopState) recordAction(key string, now time.Time) {
	if rec := s.actionRecord(key); rec != nil {
		rec.Count++
		rec.LastAt = now
		return
	}
	s.ActionHistory = append(s.ActionHistory, ActionRecord{Action: key, Count: 1, LastAt: now})
}
