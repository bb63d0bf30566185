package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// ContentionMessage is the exact error value emitted when a mutating command
// finds another instance holding the process lock. Callers match it by
// string, so it must never change.
const ContentionMessage = "Another instance is running"

// Envelope is the single JSON object every command writes to stdout. Error
// is empty on success; callers must inspect it rather than the process exit
// code, which stays zero for application-level failures.
type Envelope struct {
	Data  any    `json:"data"`
	Error string `json:"error"`
}

// WriteResult emits a success envelope. A nil payload degrades to an empty
// object so the decoded shape is stable.
func WriteResult(w io.Writer, data any) error {
	return writeEnvelope(w, Envelope{Data: data})
}

// WriteError emits a failure envelope with an empty data object.
func WriteError(w io.Writer, err error) error {
	return writeEnvelope(w, Envelope{Error: err.Error()})
}

// WriteContention emits the fixed lock-contention envelope.
func WriteContention(w io.Writer) error {
	return writeEnvelope(w, Envelope{Error: ContentionMessage})
}

func writeEnvelope(w io.Writer, env Envelope) error {
	if env.Data == nil {
		env.Data = struct{}{}
	}
	data, err := json.MarshalIndent(env, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}
