package hookio

import (
	"encoding/json"
	"io"
)

// Decision results understood by the orchestrator.
const (
	ResultBlock = "block"
	ResultWarn  = "warn"
)

// Decision is the single JSON object a blocking or warning check
// prints on stdout. Allowed actions print nothing.
type Decision struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}

// EmitDecision writes the decision as one JSON line to w.
func EmitDecision(w io.Writer, result, message string) error {
	return json.NewEncoder(w).Encode(Decision{Result: result, Message: message})
}
