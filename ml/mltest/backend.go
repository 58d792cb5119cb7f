// backend.go - In-Memory Test-Double fuer die ml Capability-Interfaces
//
// Enthaelt:
// - Cache: Token-Liste mit Offset/Trim
// - Factory: CacheFactory fuer leere Caches
// - Model: Scripted Executor, Logits bevorzugen das naechste Script-Token
// - Processor: Rune-basierter TextProcessor mit Piece-Overrides

package mltest

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mlxserve/mlxserve/ml"
)

// Cache haelt die logisch encodierte Token-Sequenz
type Cache struct {
	tokens []int32
	maxLen int
}

func (c *Cache) Offset() int {
	return len(c.tokens)
}

func (c *Cache) Trim(n int) int {
	if n < 0 {
		n = 0
	}
	if n > len(c.tokens) {
		n = len(c.tokens)
	}
	c.tokens = c.tokens[:len(c.tokens)-n]
	return n
}

// Tokens gibt eine Kopie der encodierten Sequenz zurueck
func (c *Cache) Tokens() []int32 {
	return slices.Clone(c.tokens)
}

// NewCache erstellt einen Cache der bereits tokens encodiert
func NewCache(tokens ...int32) *Cache {
	return &Cache{tokens: slices.Clone(tokens)}
}

// Factory implementiert ml.CacheFactory
type Factory struct{}

func (Factory) NewCache(maxContextLen int) ml.Cache {
	return &Cache{maxLen: maxContextLen}
}

// Model ist ein scripted Executor. Next bestimmt anhand der encodierten
// Sequenz das Token mit den hoechsten Logits; alle anderen Logits sind stark
// negativ, so dass Greedy-Sampling deterministisch ist.
type Model struct {
	Vocab int
	Next  func(encoded []int32) int32

	// Err laesst jeden Forward-Aufruf fehlschlagen
	Err error

	// ErrAfter > 0 laesst den n-ten Forward-Aufruf fehlschlagen
	ErrAfter int

	ForwardCalls [][]int32
	Cleared      int
}

func (m *Model) Forward(tokens []int32, cache ml.Cache) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	m.ForwardCalls = append(m.ForwardCalls, slices.Clone(tokens))
	if m.ErrAfter > 0 && len(m.ForwardCalls) >= m.ErrAfter {
		return nil, fmt.Errorf("forward failed at call %d", len(m.ForwardCalls))
	}

	c := cache.(*Cache)
	if c.maxLen > 0 && len(c.tokens)+len(tokens) > c.maxLen {
		return nil, fmt.Errorf("context length exceeded: %d+%d > %d", len(c.tokens), len(tokens), c.maxLen)
	}
	c.tokens = append(c.tokens, tokens...)

	logits := make([]float32, m.Vocab)
	for i := range logits {
		logits[i] = -1e9
	}
	if m.Next != nil {
		logits[m.Next(slices.Clone(c.tokens))] = 0
	}
	return logits, nil
}

func (m *Model) ClearScratch() {
	m.Cleared++
}

// ScriptAfter erzeugt eine Next-Funktion: das i-te generierte Token (gezaehlt
// ab promptLen encodierten Tokens) ist script[i]; danach wiederholt sich das
// letzte Script-Token.
func ScriptAfter(promptLen int, script ...int32) func([]int32) int32 {
	return func(encoded []int32) int32 {
		i := len(encoded) - promptLen
		if i < 0 {
			i = 0
		}
		if i >= len(script) {
			i = len(script) - 1
		}
		return script[i]
	}
}

// Processor decodiert Tokens rune-basiert (Token-Id == Codepoint). Pieces
// ueberschreibt einzelne Ids mit beliebigen Byte-Sequenzen, damit Tests
// Multi-Byte-Fragmente erzeugen koennen.
type Processor struct {
	Pieces map[int32]string
	EOS    []int32
}

func (p *Processor) Decode(tokens []int32) (string, error) {
	var sb strings.Builder
	for _, t := range tokens {
		if piece, ok := p.Pieces[t]; ok {
			sb.WriteString(piece)
			continue
		}
		sb.WriteRune(rune(t))
	}

	// Unvollstaendige oder ungueltige Byte-Sequenzen werden wie bei einem
	// echten Tokenizer als U+FFFD sichtbar
	return strings.ToValidUTF8(sb.String(), "�"), nil
}

func (p *Processor) Encode(s string) ([]int32, error) {
	var tokens []int32
	for _, r := range s {
		tokens = append(tokens, int32(r))
	}
	return tokens, nil
}

func (p *Processor) EOSTokenIDs() []int32 {
	return p.EOS
}
