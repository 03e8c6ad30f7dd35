// Package hookio reads the single JSON event an orchestrator pipes to a
// check process and writes the decision JSON the orchestrator expects
// back on stdout.
package hookio

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/basket/spawnguard/internal/shared"
)

// ErrNoInput reports that nothing usable arrived on standard input
// within the wait window. Callers treat it as "nothing to check".
var ErrNoInput = errors.New("hookio: no input")

// DefaultWait bounds how long a check blocks on stdin. Orchestrators
// write the event before spawning the process, so anything that has
// not arrived quickly is not coming.
const DefaultWait = 100 * time.Millisecond

// nested carries the prompt-bearing sub-object some orchestrators put
// under tool_input or input.
type nested struct {
	Prompt      string `json:"prompt"`
	Description string `json:"description"`
}

// Event is the hook payload. Orchestrators disagree on field names, so
// each logical field has aliases and a presence-tolerant accessor.
// Every field is optional.
type Event struct {
	ToolName      string   `json:"tool_name"`
	ToolAlias     string   `json:"tool"`
	ToolInput     *nested  `json:"tool_input"`
	InputAlias    *nested  `json:"input"`
	Tokens        *float64 `json:"tokens"`
	TokenCount    *float64 `json:"token_count"`
	Duration      *float64 `json:"duration"`
	ExecutionTime *float64 `json:"execution_time"`
	Error         string   `json:"error"`
	Success       *bool    `json:"success"`
	Prompt        string   `json:"prompt"`
	UserMessage   string   `json:"user_message"`
	SessionID     string   `json:"session_id"`
	Agent         string   `json:"agent"`
	AgentName     string   `json:"agent_name"`
	TaskID        string   `json:"task_id"`
	Model         string   `json:"model"`
	ModelName     string   `json:"model_name"`
}

// Tool returns the tool name under either alias.
func (e *Event) Tool() string {
	if e.ToolName != "" {
		return e.ToolName
	}
	return e.ToolAlias
}

// PromptText returns the free-text content of the event, checking the
// top-level prompt fields first and the nested input object second.
func (e *Event) PromptText() string {
	if e.Prompt != "" {
		return e.Prompt
	}
	if e.UserMessage != "" {
		return e.UserMessage
	}
	if e.ToolInput != nil && e.ToolInput.Prompt != "" {
		return e.ToolInput.Prompt
	}
	if e.InputAlias != nil && e.InputAlias.Prompt != "" {
		return e.InputAlias.Prompt
	}
	return ""
}

// Description returns the nested task description, if any.
func (e *Event) Description() string {
	if e.ToolInput != nil && e.ToolInput.Description != "" {
		return e.ToolInput.Description
	}
	if e.InputAlias != nil {
		return e.InputAlias.Description
	}
	return ""
}

// TokenUsage returns the reported token count and whether one was present.
func (e *Event) TokenUsage() (float64, bool) {
	if e.Tokens != nil {
		return *e.Tokens, true
	}
	if e.TokenCount != nil {
		return *e.TokenCount, true
	}
	return 0, false
}

// DurationSeconds returns the reported execution time and whether one
// was present.
func (e *Event) DurationSeconds() (float64, bool) {
	if e.Duration != nil {
		return *e.Duration, true
	}
	if e.ExecutionTime != nil {
		return *e.ExecutionTime, true
	}
	return 0, false
}

// Succeeded returns the reported outcome and whether one was present.
// An event carrying an error string but no success flag counts as a
// reported failure.
func (e *Event) Succeeded() (bool, bool) {
	if e.Success != nil {
		return *e.Success, true
	}
	if e.Error != "" {
		return false, true
	}
	return false, false
}

// AgentID returns the agent identity under either alias.
func (e *Event) AgentID() string {
	if e.AgentName != "" {
		return e.AgentName
	}
	return e.Agent
}

// ModelID returns the model identity under either alias.
func (e *Event) ModelID() string {
	if e.ModelName != "" {
		return e.ModelName
	}
	return e.Model
}

// Session returns the session id, defaulting when absent.
func (e *Event) Session() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return shared.DefaultSessionID
}

// ReadEvent reads one JSON event from r, waiting at most wait for the
// data to arrive. Empty or whitespace-only input maps to ErrNoInput;
// malformed JSON is a parse error the caller also treats as nothing to
// check.
func ReadEvent(r io.Reader, wait time.Duration) (*Event, error) {
	if wait <= 0 {
		wait = DefaultWait
	}

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(r)
		ch <- result{data: data, err: err}
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	var res result
	select {
	case res = <-ch:
	case <-timer.C:
		// The reader goroutine stays blocked on r; the process is
		// short-lived, so it is reaped at exit.
		return nil, ErrNoInput
	}
	if res.err != nil {
		return nil, fmt.Errorf("read input: %w", res.err)
	}
	if strings.TrimSpace(string(res.data)) == "" {
		return nil, ErrNoInput
	}

	var event Event
	if err := json.Unmarshal(res.data, &event); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return &event, nil
}
