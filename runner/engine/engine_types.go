// engine_types.go - Typen fuer die Generation-Engine
//
// Enthaelt:
// - Token/Fragment: Einheiten des Ausgabestroms
// - Context: Kooperative Abbruch-Steuerung
// - Params: Parameter eines Generierungslaufs
// - Result: Zusammenfassung nach Abschluss

package engine

import (
	"sync/atomic"
	"time"

	"github.com/mlxserve/mlxserve/llm"
	"github.com/mlxserve/mlxserve/ml"
	"github.com/mlxserve/mlxserve/sample"
)

// Token ist ein gesampeltes Token mit dem Text der durch seine Verarbeitung
// freigegeben wurde. Haelt der StopMatcher Text zurueck, kann Text die
// decodierten Stuecke mehrerer gepufferter Tokens umfassen.
type Token struct {
	ID      int32
	Text    string
	Logprob float64
}

// Fragment ist die Einheit des emittierten Ausgabestroms
type Fragment struct {
	Token    Token
	Logprobs []llm.Logprob
}

// Context steuert den Lebenszyklus eines Generierungs-Requests.
// Der Abbruch ist monoton: einmal gesetzt, bleibt er gesetzt.
type Context struct {
	cancelled atomic.Bool
}

func NewContext() *Context {
	return &Context{}
}

func (c *Context) Cancel() {
	c.cancelled.Store(true)
}

func (c *Context) Cancelled() bool {
	return c.cancelled.Load()
}

// Params enthaelt die Eingaben eines Generierungslaufs
type Params struct {
	// Suffix ist der nicht im Cache enthaltene Teil der Prompt-Tokens;
	// mindestens das letzte Prompt-Token
	Suffix []int32

	// Cache encodiert bereits die gematchten Prefix-Tokens
	Cache ml.Cache

	// History sind die vollstaendigen Prompt-Tokens inklusive des gecachten
	// Prefix; Logits-Prozessoren sehen History plus generierte Tokens.
	// Leer: Suffix wird verwendet.
	History []int32

	// MaxTokens begrenzt die Anzahl generierter Tokens; 0 nutzt den
	// konfigurierten Default
	MaxTokens int

	// Sampler waehlt Tokens aus Logits; nil ergibt Greedy
	Sampler sample.Sampler

	// Processors werden in Reihenfolge vor jedem Sampling angewendet
	Processors []sample.Processor

	// Stop sind literale Stop-Sequenzen
	Stop []string

	// EOSTokenIDs ueberschreibt die EOS-Menge des TextProcessors
	EOSTokenIDs []int32

	// PrefillBatch ist die Chunk-Groesse fuer den Prefill; 0 nutzt den
	// konfigurierten Default
	PrefillBatch int

	// Progress meldet den Prefill-Fortschritt (0-100). Rueckgabe false
	// bricht den Request ab.
	Progress func(percent float64) bool

	// Logprobs aktiviert Log-Wahrscheinlichkeiten pro Fragment
	Logprobs    bool
	TopLogprobs int
}

// Result fasst einen abgeschlossenen Lauf zusammen
type Result struct {
	DoneReason llm.DoneReason

	// StopTokens sind die Token-Ids in denen die Stop-Sequenz gefunden
	// wurde (nur bei Stop-Sequenz-Ende gesetzt)
	StopTokens []int32

	// EvalCount ist die Anzahl generierter Decode-Tokens; ein terminierendes
	// EOS-Token zaehlt nicht mit
	EvalCount int

	PrefillDuration time.Duration
	DecodeDuration  time.Duration
}
