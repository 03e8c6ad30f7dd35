package hookio_test

import (
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/basket/spawnguard/internal/hookio"
)

func TestReadEvent_CanonicalFields(t *testing.T) {
	payload := `{
		"tool_name": "Task",
		"tool_input": {"prompt": "build a parser", "description": "parsing"},
		"tokens": 1200,
		"duration": 4.5,
		"success": true,
		"session_id": "sess-1"
	}`
	event, err := hookio.ReadEvent(strings.NewReader(payload), time.Second)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got := event.Tool(); got != "Task" {
		t.Fatalf("expected tool Task, got %q", got)
	}
	if got := event.PromptText(); got != "build a parser" {
		t.Fatalf("expected nested prompt, got %q", got)
	}
	if got := event.Description(); got != "parsing" {
		t.Fatalf("expected description, got %q", got)
	}
	if tokens, ok := event.TokenUsage(); !ok || tokens != 1200 {
		t.Fatalf("expected tokens 1200, got %v ok=%v", tokens, ok)
	}
	if dur, ok := event.DurationSeconds(); !ok || dur != 4.5 {
		t.Fatalf("expected duration 4.5, got %v ok=%v", dur, ok)
	}
	if ok, present := event.Succeeded(); !present || !ok {
		t.Fatalf("expected reported success, got ok=%v present=%v", ok, present)
	}
	if got := event.Session(); got != "sess-1" {
		t.Fatalf("expected session sess-1, got %q", got)
	}
}

func TestReadEvent_AliasFields(t *testing.T) {
	payload := `{
		"tool": "Bash",
		"input": {"prompt": "retry the deploy"},
		"token_count": 300,
		"execution_time": 1.5,
		"user_message": "please retry",
		"agent_name": "builder",
		"model_name": "opus"
	}`
	event, err := hookio.ReadEvent(strings.NewReader(payload), time.Second)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got := event.Tool(); got != "Bash" {
		t.Fatalf("expected tool alias, got %q", got)
	}
	if tokens, ok := event.TokenUsage(); !ok || tokens != 300 {
		t.Fatalf("expected token_count alias, got %v ok=%v", tokens, ok)
	}
	if dur, ok := event.DurationSeconds(); !ok || dur != 1.5 {
		t.Fatalf("expected execution_time alias, got %v ok=%v", dur, ok)
	}
	if got := event.PromptText(); got != "please retry" {
		t.Fatalf("expected user_message before nested prompt, got %q", got)
	}
	if got := event.AgentID(); got != "builder" {
		t.Fatalf("expected agent_name, got %q", got)
	}
	if got := event.ModelID(); got != "opus" {
		t.Fatalf("expected model_name, got %q", got)
	}
}

func TestReadEvent_ErrorImpliesFailure(t *testing.T) {
	event, err := hookio.ReadEvent(strings.NewReader(`{"error": "boom"}`), time.Second)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	ok, present := event.Succeeded()
	if !present || ok {
		t.Fatalf("expected error string to imply failure, got ok=%v present=%v", ok, present)
	}
}

func TestReadEvent_EmptyInput(t *testing.T) {
	_, err := hookio.ReadEvent(strings.NewReader("   \n"), time.Second)
	if !errors.Is(err, hookio.ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
}

func TestReadEvent_MalformedJSON(t *testing.T) {
	_, err := hookio.ReadEvent(strings.NewReader("{not json"), time.Second)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if errors.Is(err, hookio.ErrNoInput) {
		t.Fatal("malformed input is a parse error, not ErrNoInput")
	}
}

func TestReadEvent_TimesOutOnSilentReader(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	defer r.Close()

	start := time.Now()
	_, err := hookio.ReadEvent(r, 50*time.Millisecond)
	if !errors.Is(err, hookio.ErrNoInput) {
		t.Fatalf("expected ErrNoInput on silent reader, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("wait was not bounded: %v", elapsed)
	}
}

func TestReadEvent_DefaultSession(t *testing.T) {
	event, err := hookio.ReadEvent(strings.NewReader(`{}`), time.Second)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got := event.Session(); got != "default" {
		t.Fatalf("expected default session, got %q", got)
	}
}

func TestEmitDecision_SingleJSONLine(t *testing.T) {
	var sb strings.Builder
	if err := hookio.EmitDecision(&sb, hookio.ResultBlock, "spawn depth limit reached"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	out := sb.String()
	if !strings.HasSuffix(out, "\n") {
		t.Fatalf("expected newline-terminated output, got %q", out)
	}
	var decision hookio.Decision
	if err := json.Unmarshal([]byte(out), &decision); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if decision.Result != "block" || decision.Message != "spawn depth limit reached" {
		t.Fatalf("unexpected decision %+v", decision)
	}
}
