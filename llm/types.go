// types.go - Wire-Typen fuer Completion-Requests
//
// Enthaelt:
// - CompletionRequest/CompletionResponse: Streaming-Protokoll
// - DoneReason: Beendigungsgrund einer Generierung
// - Logprob/TokenLogprob: Log-Wahrscheinlichkeiten
package llm

import (
	"encoding/json"
	"time"
)

// CompletionRequest enthaelt alle Parameter fuer Text-Generierung
type CompletionRequest struct {
	Prompt string `json:"prompt"`

	MaxTokens   int      `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
	Temperature float32  `json:"temperature,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	TopP        float32  `json:"top_p,omitempty"`
	Seed        int64    `json:"seed,omitempty"`

	RepetitionPenalty     float32 `json:"repetition_penalty,omitempty"`
	RepetitionContextSize int     `json:"repetition_context_size,omitempty"`

	Logprobs    bool `json:"logprobs,omitempty"`
	TopLogprobs int  `json:"top_logprobs,omitempty"` // Anzahl alternativer Token (0-20)
}

// DoneReason gibt an warum die Generierung beendet wurde
type DoneReason int

const (
	DoneReasonStop             DoneReason = iota // EOS-Token oder Stop-Sequenz
	DoneReasonLength                             // Laengenlimit erreicht
	DoneReasonConnectionClosed                   // Verbindung geschlossen
	DoneReasonCancelled                          // Request abgebrochen
)

func (d DoneReason) String() string {
	switch d {
	case DoneReasonLength:
		return "length"
	case DoneReasonConnectionClosed:
		return "connection_closed"
	case DoneReasonCancelled:
		return "cancelled"
	default:
		return "stop"
	}
}

// MarshalJSON serialisiert den Beendigungsgrund als String, damit Clients
// "stop"/"length" statt interner Zahlenwerte sehen
func (d DoneReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *DoneReason) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "length":
		*d = DoneReasonLength
	case "connection_closed":
		*d = DoneReasonConnectionClosed
	case "cancelled":
		*d = DoneReasonCancelled
	default:
		*d = DoneReasonStop
	}
	return nil
}

// TokenLogprob enthaelt die Log-Wahrscheinlichkeit fuer ein Token
type TokenLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

// Logprob enthaelt vollstaendige Log-Wahrscheinlichkeits-Info
type Logprob struct {
	TokenLogprob
	TopLogprobs []TokenLogprob `json:"top_logprobs,omitempty"`
}

// CompletionResponse ist ein Chunk der Streaming-Antwort
type CompletionResponse struct {
	Content    string     `json:"content"`
	DoneReason DoneReason `json:"done_reason"`
	Done       bool       `json:"done"`

	PromptEvalCount    int           `json:"prompt_eval_count"`
	PromptEvalDuration time.Duration `json:"prompt_eval_duration"`
	EvalCount          int           `json:"eval_count"`
	EvalDuration       time.Duration `json:"eval_duration"`

	Logprobs []Logprob `json:"logprobs,omitempty"`
}
