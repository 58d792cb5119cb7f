// pool.go - Pool wiederverwendbarer Prompt-Caches
//
// Enthaelt:
// - Pool: Verwaltung der Cache-Eintraege mit LRU-Eviction
// - FindBestMatch: Atomarer Scan mit Longest-Common-Prefix Auswahl
// - Save/Unlock/Clear/Stats: Lifecycle-Operationen
//
// Matching folgt der llama.cpp Slot-Auswahl: laengster gemeinsamer Prefix
// gewinnt, bei Gleichstand die hoehere Reuse-Ratio.

package promptcache

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mlxserve/mlxserve/ml"
)

// NoEntry markiert eine fehlende Entry-Id
const NoEntry int64 = -1

// Entry ist ein gehaltener Prompt-Cache mit Metadaten. Solange locked gesetzt
// ist gehoert der Cache exklusiv einem laufenden Request und ist fuer Matching
// und Eviction unsichtbar.
type Entry struct {
	cache    ml.Cache
	tokens   []int32
	lastUsed time.Time
	id       int64
	locked   bool
}

// Match ist das Ergebnis eines erfolgreichen FindBestMatch
type Match struct {
	Cache     ml.Cache
	PrefixLen int
	EntryID   int64
	CachedLen int
}

// Pool verwaltet bis zu capacity Prompt-Caches. Alle Mutationen laufen unter
// einem Mutex, damit Scan und Lock eine atomare Einheit bilden.
type Pool struct {
	mu sync.Mutex

	entries map[int64]*Entry
	nextID  int64

	capacity      int
	minPrefixLen  int
	minReuseRatio float64

	hits   uint64
	misses uint64
}

// NewPool erstellt einen leeren Pool
func NewPool(capacity, minPrefixLength int, minReuseRatio float64) *Pool {
	slog.Debug("prompt cache pool initialized",
		"capacity", capacity,
		"min_prefix_length", minPrefixLength,
		"min_reuse_ratio", minReuseRatio)

	return &Pool{
		entries:       make(map[int64]*Entry),
		capacity:      capacity,
		minPrefixLen:  minPrefixLength,
		minReuseRatio: minReuseRatio,
	}
}

// commonPrefixLen gibt den Index des ersten unterschiedlichen Elements zurueck
func commonPrefixLen(a, b []int32) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// FindBestMatch sucht unter allen nicht gesperrten Eintraegen den mit dem
// laengsten gemeinsamen Prefix zu tokens. Kandidaten unterhalb der
// Schwellwerte werden verworfen; bei gleichem Prefix gewinnt die hoehere
// Reuse-Ratio. Der Gewinner wird gesperrt und sein lastUsed aufgefrischt.
// Kein Treffer ist kein Fehler, sondern ein regulaerer Miss.
func (p *Pool) FindBestMatch(tokens []int32) (Match, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Entry
	var bestPrefixLen int
	var bestReuseRatio float64

	// In Einfuegereihenfolge scannen, damit bei vollstaendigem Gleichstand
	// deterministisch der aelteste Eintrag gewinnt
	ids := make([]int64, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		entry := p.entries[id]
		if entry.locked {
			continue
		}

		prefixLen := commonPrefixLen(entry.tokens, tokens)

		var reuseRatio float64
		if len(entry.tokens) > 0 {
			reuseRatio = float64(prefixLen) / float64(len(entry.tokens))
		}

		if prefixLen < p.minPrefixLen {
			continue
		}
		if reuseRatio < p.minReuseRatio {
			slog.Debug("candidate rejected by reuse ratio",
				"entry_id", entry.id,
				"prefix_len", prefixLen,
				"reuse_ratio", reuseRatio,
				"min_reuse_ratio", p.minReuseRatio)
			continue
		}

		// Prioritaet 1: laengster gemeinsamer Prefix
		// Prioritaet 2: hoehere Reuse-Ratio
		better := false
		if best == nil || prefixLen > bestPrefixLen {
			better = true
		} else if prefixLen == bestPrefixLen && reuseRatio > bestReuseRatio {
			better = true
		}

		if better {
			best = entry
			bestPrefixLen = prefixLen
			bestReuseRatio = reuseRatio
		}
	}

	if best == nil {
		p.misses++
		slog.Debug("cache miss: no matching prefix found", "tokens", len(tokens))
		return Match{}, false
	}

	best.lastUsed = time.Now()
	best.locked = true
	p.hits++
	slog.Debug("cache hit",
		"entry_id", best.id,
		"prefix_len", bestPrefixLen,
		"tokens", len(tokens),
		"cached", len(best.tokens))

	return Match{
		Cache:     best.cache,
		PrefixLen: bestPrefixLen,
		EntryID:   best.id,
		CachedLen: len(best.tokens),
	}, true
}

// Save legt cache mit seiner vollstaendigen Token-Sequenz im Pool ab.
// entryID eines bestehenden Eintrags ueberschreibt diesen und hebt seine
// Sperre auf. Ohne Eintrag wird neu allokiert oder der aelteste ungesperrte
// Eintrag ueberschrieben; sind alle gesperrt wird der Save verworfen.
func (p *Pool) Save(cache ml.Cache, tokens []int32, entryID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[entryID]; entryID != NoEntry && ok {
		entry.cache = cache
		entry.tokens = slices.Clone(tokens)
		entry.lastUsed = time.Now()
		entry.locked = false
		slog.Debug("cache updated", "entry_id", entryID, "tokens", len(tokens))
		return
	}

	if len(p.entries) < p.capacity {
		id := p.nextID
		p.nextID++
		p.entries[id] = &Entry{
			cache:    cache,
			tokens:   slices.Clone(tokens),
			lastUsed: time.Now(),
			id:       id,
		}
		slog.Debug("cache created", "entry_id", id, "tokens", len(tokens))
		return
	}

	// Pool voll: aeltesten ungesperrten Eintrag in-place ueberschreiben
	var lru *Entry
	for _, entry := range p.entries {
		if entry.locked {
			continue
		}
		if lru == nil || entry.lastUsed.Before(lru.lastUsed) {
			lru = entry
		}
	}

	if lru == nil {
		slog.Warn("cannot save cache: all entries are locked", "capacity", p.capacity)
		return
	}

	lru.cache = cache
	lru.tokens = slices.Clone(tokens)
	lru.lastUsed = time.Now()
	lru.locked = false
	slog.Debug("cache evicted and replaced", "entry_id", lru.id, "tokens", len(tokens))
}

// Unlock hebt die Sperre eines Eintrags auf. Idempotent; unbekannte Ids und
// NoEntry sind No-Ops.
func (p *Pool) Unlock(entryID int64) {
	if entryID == NoEntry {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[entryID]; ok {
		entry.locked = false
		slog.Debug("cache entry unlocked", "entry_id", entryID)
	}
}

// Stats sind die Pool-Kennzahlen fuer Monitoring
type Stats struct {
	TotalEntries     int     `json:"total_entries"`
	MaxCapacity      int     `json:"max_capacity"`
	LockedEntries    int     `json:"locked_entries"`
	AvailableEntries int     `json:"available_entries"`
	Hits             uint64  `json:"hits"`
	Misses           uint64  `json:"misses"`
	HitRate          float64 `json:"hit_rate"`
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var locked int
	for _, entry := range p.entries {
		if entry.locked {
			locked++
		}
	}

	var hitRate float64
	if total := p.hits + p.misses; total > 0 {
		hitRate = float64(p.hits) / float64(total)
	}

	return Stats{
		TotalEntries:     len(p.entries),
		MaxCapacity:      p.capacity,
		LockedEntries:    locked,
		AvailableEntries: len(p.entries) - locked,
		Hits:             p.hits,
		Misses:           p.misses,
		HitRate:          hitRate,
	}
}

// Clear verwirft alle Eintraege und setzt die Zaehler zurueck
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	clear(p.entries)
	p.hits = 0
	p.misses = 0
	slog.Info("prompt cache pool cleared")
}
