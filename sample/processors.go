// processors.go - Logits-Prozessoren
//
// Enthaelt:
// - Processor: Interface fuer Logits-Transformationen vor dem Sampling
// - RepetitionPenalty: Cache-bewusste Wiederholungs-Strafe

package sample

// Processor transformiert Logits anhand der bisherigen Token-Historie.
// Prozessoren werden in Reihenfolge vor jedem Sampling-Schritt angewendet.
type Processor interface {
	Apply(history []int32, logits []float32) []float32
}

// RepetitionPenalty bestraft Tokens die innerhalb des Kontextfensters bereits
// vorkamen. Die Historie enthaelt auch die aus dem Prompt-Cache uebernommenen
// Prefix-Tokens, damit Reuse die Strafe nicht zuruecksetzt.
type RepetitionPenalty struct {
	penalty     float32
	contextSize int
}

// NewRepetitionPenalty erstellt die Strafe; contextSize <= 0 betrachtet die
// gesamte Historie
func NewRepetitionPenalty(penalty float32, contextSize int) *RepetitionPenalty {
	return &RepetitionPenalty{penalty: penalty, contextSize: contextSize}
}

func (r *RepetitionPenalty) Apply(history []int32, logits []float32) []float32 {
	if r.penalty == 1 || len(history) == 0 {
		return logits
	}

	window := history
	if r.contextSize > 0 && len(window) > r.contextSize {
		window = window[len(window)-r.contextSize:]
	}

	for _, t := range window {
		if int(t) >= len(logits) {
			continue
		}
		if logits[t] > 0 {
			logits[t] /= r.penalty
		} else {
			logits[t] *= r.penalty
		}
	}
	return logits
}
