// stop.go - Token-bewusstes Stop-Sequenz-Matching
//
// Enthaelt:
// - StopMatcher: Inkrementelles Matching mit Partial-Match-Pufferung
//
// Der Matcher puffert Token-Ids statt Text, damit bei einem Treffer die
// exakten Stop-Tokens gemeldet werden koennen und unvollstaendige
// Multi-Byte-Zeichen erkannt werden.

package engine

import (
	"strings"

	"github.com/mlxserve/mlxserve/ml"
)

// StopMatcher haelt Text zurueck der noch zu einer Stop-Sequenz werden
// koennte. Bereits freigegebener Text wird ueber einen Byte-Offset
// verfolgt und nie erneut emittiert.
type StopMatcher struct {
	stops []string
	proc  ml.TextProcessor

	buf     []int32
	emitted int
}

func NewStopMatcher(proc ml.TextProcessor, stops []string) *StopMatcher {
	return &StopMatcher{stops: stops, proc: proc}
}

// Push verarbeitet ein Token. Rueckgabe: sicherer Text (kann leer sein), ob
// eine Stop-Sequenz vollstaendig gematcht wurde, und bei einem Match die
// Token-Ids des Puffers in dem sie gefunden wurde.
func (m *StopMatcher) Push(token int32) (string, bool, []int32, error) {
	m.buf = append(m.buf, token)

	decoded, err := m.proc.Decode(m.buf)
	if err != nil {
		return "", false, nil, err
	}

	// Unvollstaendiges Multi-Byte-Zeichen: alles zurueckhalten
	if strings.HasSuffix(decoded, "�") {
		return "", false, nil, nil
	}

	// Fruehester Voll-Treffer unter allen Stop-Sequenzen
	earliest := -1
	for _, stop := range m.stops {
		if idx := strings.Index(decoded, stop); idx >= 0 && (earliest < 0 || idx < earliest) {
			earliest = idx
		}
	}

	if earliest >= 0 {
		safe := ""
		if earliest > m.emitted {
			safe = decoded[m.emitted:earliest]
		}
		stopTokens := m.buf
		m.buf = nil
		m.emitted = 0
		return safe, true, stopTokens, nil
	}

	// Laengster Suffix des decodierten Texts der Prefix einer Stop-Sequenz
	// ist: zurueckhalten, Rest freigeben. Der Puffer bleibt erhalten, damit
	// ein spaeterer Treffer die exakten Stop-Tokens melden kann.
	if n := longestStopPrefix(decoded, m.stops); n > 0 {
		cut := len(decoded) - n
		safe := ""
		if cut > m.emitted {
			safe = decoded[m.emitted:cut]
			m.emitted = cut
		}
		return safe, false, nil, nil
	}

	safe := decoded[m.emitted:]
	m.buf = nil
	m.emitted = 0
	return safe, false, nil, nil
}

// Pending gibt zurueck ob der Matcher Text zurueckhaelt
func (m *StopMatcher) Pending() bool {
	return len(m.buf) > 0
}

// longestStopPrefix gibt die Laenge des laengsten Suffix von decoded zurueck,
// der Prefix irgendeiner Stop-Sequenz ist
func longestStopPrefix(decoded string, stops []string) int {
	longest := 0
	for _, stop := range stops {
		maxCheck := min(len(decoded), len(stop))
		for l := maxCheck; l > 0; l-- {
			if strings.HasPrefix(stop, decoded[len(decoded)-l:]) {
				if l > longest {
					longest = l
				}
				break
			}
		}
	}
	return longest
}
