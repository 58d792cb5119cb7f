// registry.go - Registrierung von Executor-Backends
//
// Backends registrieren sich in ihrem init(); der Server waehlt beim Start
// per Name aus. Ohne registriertes Backend kann der Server nicht starten.

package ml

import "fmt"

// Backend buendelt die Capabilities eines geladenen Models
type Backend interface {
	Model() Model
	TextProcessor() TextProcessor
	CacheFactory() CacheFactory
}

var backends = make(map[string]func(modelPath string) (Backend, error))

func RegisterBackend(name string, f func(modelPath string) (Backend, error)) {
	if _, ok := backends[name]; ok {
		panic("backend: backend already registered " + name)
	}

	backends[name] = f
}

// NewBackend laedt das benannte Backend mit modelPath. Ein leerer Name waehlt
// das einzige registrierte Backend.
func NewBackend(name, modelPath string) (Backend, error) {
	if name == "" && len(backends) == 1 {
		for n := range backends {
			name = n
		}
	}

	if f, ok := backends[name]; ok {
		return f(modelPath)
	}

	return nil, fmt.Errorf("unsupported backend %q", name)
}
