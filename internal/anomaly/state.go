package anomaly

import (
	"encoding/json"
	"time"
)

// StateName is the document name under the state directory.
const StateName = "anomaly_state"

// History and tracking caps. Oldest entries are evicted first.
const (
	historyCap = 100
	patternCap = 50
	errorCap   = 5
)

// FailureRecord tracks consecutive failures of one tool.
type FailureRecord struct {
	Count      int       `json:"count"`
	Errors     []string  `json:"errors,omitempty"`
	LastFailed time.Time `json:"lastFailed"`
}

// PromptPattern counts observations of one normalized-prompt fingerprint.
type PromptPattern struct {
	Hash     string    `json:"hash"`
	Count    int       `json:"count"`
	LastSeen time.Time `json:"lastSeen"`
}

// AnomalyState carries the rolling baselines the detectors compare
// against. All histories are bounded; see the caps above.
type AnomalyState struct {
	TokenHistory    []float64                 `json:"tokenHistory,omitempty"`
	DurationHistory []float64                 `json:"durationHistory,omitempty"`
	FailureTracking map[string]*FailureRecord `json:"failureTracking,omitempty"`
	PromptPatterns  []PromptPattern           `json:"promptPatterns,omitempty"`
}

func (s *AnomalyState) Reset() {
	*s = AnomalyState{}
}

func (s *AnomalyState) Schema() []byte {
	// failureTracking values are left unconstrained: a malformed record
	// is dropped by the filtered decode instead of resetting every
	// baseline.
	return []byte(`{
		"type": "object",
		"properties": {
			"tokenHistory": {"type": "array", "items": {"type": "number"}},
			"durationHistory": {"type": "array", "items": {"type": "number"}},
			"failureTracking": {"type": "object"},
			"promptPatterns": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"hash": {"type": "string"},
						"count": {"type": "integer", "minimum": 0},
						"lastSeen": {"type": "string"}
					}
				}
			}
		}
	}`)
}

// DecodeFiltered copies only the known fields out of on-disk JSON and
// re-applies the caps, so an oversized or hand-edited file cannot grow
// the in-memory state past its bounds.
func (s *AnomalyState) DecodeFiltered(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["tokenHistory"]; ok {
		if err := json.Unmarshal(v, &s.TokenHistory); err != nil {
			return err
		}
	}
	if v, ok := raw["durationHistory"]; ok {
		if err := json.Unmarshal(v, &s.DurationHistory); err != nil {
			return err
		}
	}
	if v, ok := raw["failureTracking"]; ok {
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(v, &entries); err != nil {
			return err
		}
		s.FailureTracking = make(map[string]*FailureRecord, len(entries))
		for tool, rawRec := range entries {
			rec := &FailureRecord{}
			if json.Unmarshal(rawRec, rec) != nil {
				continue // malformed record, discard
			}
			s.FailureTracking[tool] = rec
		}
	}
	if v, ok := raw["promptPatterns"]; ok {
		if err := json.Unmarshal(v, &s.PromptPatterns); err != nil {
			return err
		}
	}
	s.TokenHistory = capTail(s.TokenHistory, historyCap)
	s.DurationHistory = capTail(s.DurationHistory, historyCap)
	for _, rec := range s.FailureTracking {
		if len(rec.Errors) > errorCap {
			rec.Errors = rec.Errors[len(rec.Errors)-errorCap:]
		}
	}
	for len(s.PromptPatterns) > patternCap {
		s.evictOldestPattern()
	}
	return nil
}

// RecordToken appends one token observation, evicting the oldest entry
// past the cap.
func (s *AnomalyState) RecordToken(v float64) {
	s.TokenHistory = capTail(append(s.TokenHistory, v), historyCap)
}

// RecordDuration appends one duration observation.
func (s *AnomalyState) RecordDuration(v float64) {
	s.DurationHistory = capTail(append(s.DurationHistory, v), historyCap)
}

// RecordFailure bumps the tool's consecutive-failure counter and keeps
// a short tail of error strings. Returns the updated count.
func (s *AnomalyState) RecordFailure(tool, errMsg string, now time.Time) int {
	if s.FailureTracking == nil {
		s.FailureTracking = make(map[string]*FailureRecord)
	}
	rec := s.FailureTracking[tool]
	if rec == nil {
		rec = &FailureRecord{}
		s.FailureTracking[tool] = rec
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

// RecordSuccess clears the tool's failure streak.
func (s *AnomalyState) RecordSuccess(tool string) {
	if rec := s.FailureTracking[tool]; rec != nil {
		rec.Count = 0
		rec.Errors = nil
	}
}

// ObservePrompt records one occurrence of the prompt fingerprint and
// returns the occurrence count BEFORE this observation, which is what
// the loop-risk detector compares against its threshold.
func (s *AnomalyState) ObservePrompt(hash string, now time.Time) int {
	for i := range s.PromptPatterns {
		if s.PromptPatterns[i].Hash == hash {
			prior := s.PromptPatterns[i].Count
			s.PromptPatterns[i].Count++
			s.PromptPatterns[i].LastSeen = now
			return prior
		}
	}
	s.PromptPatterns = append(s.PromptPatterns, PromptPattern{Hash: hash, Count: 1, LastSeen: now})
	for len(s.PromptPatterns) > patternCap {
		s.evictOldestPattern()
	}
	return 0
}

func (s *AnomalyState) evictOldestPattern() {
	if len(s.PromptPatterns) == 0 {
		return
	}
	oldest := 0
	for i := 1; i < len(s.PromptPatterns); i++ {
		if s.PromptPatterns[i].LastSeen.Before(s.PromptPatterns[oldest].LastSeen) {
			oldest = i
		}
	}
	s.PromptPatterns = append(s.PromptPatterns[:oldest], s.PromptPatterns[oldest+1:]...)
}

func capTail(values []float64, limit int) []float64 {
	if len(values) > limit {
		return values[len(values)-limit:]
	}
	return values
}
