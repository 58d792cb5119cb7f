package promptcache

import (
	"testing"

	"github.com/mlxserve/mlxserve/ml/mltest"
)

func TestCommonPrefixLen(t *testing.T) {
	cases := []struct {
		name string
		a, b []int32
		want int
	}{
		{"beide leer", nil, nil, 0},
		{"identisch", []int32{1, 2, 3}, []int32{1, 2, 3}, 3},
		{"a ist Prefix von b", []int32{1, 2}, []int32{1, 2, 3, 4}, 2},
		{"b ist Prefix von a", []int32{1, 2, 3, 4}, []int32{1, 2}, 2},
		{"Abweichung am Anfang", []int32{9, 2, 3}, []int32{1, 2, 3}, 0},
		{"Abweichung in der Mitte", []int32{1, 2, 9, 4}, []int32{1, 2, 3, 4}, 2},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if got := commonPrefixLen(tt.a, tt.b); got != tt.want {
				t.Errorf("commonPrefixLen(%v, %v) = %d, erwartet %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestFindBestMatchThresholds(t *testing.T) {
	p := NewPool(4, 3, 0.5)

	// Prefix-Laenge 2 < minPrefixLen 3
	p.Save(mltest.NewCache(), []int32{1, 2, 9, 9, 9}, NoEntry)
	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5}); ok {
		t.Error("Kandidat unter minPrefixLen darf nicht zurueckgegeben werden")
	}

	// Prefix 3 erfuellt minPrefixLen, aber reuse_ratio 3/10 < 0.5
	p.Clear()
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 9, 9, 9, 9, 9, 9, 9}, NoEntry)
	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5}); ok {
		t.Error("Kandidat unter minReuseRatio darf nicht zurueckgegeben werden")
	}

	// reuse_ratio 3/5 >= 0.5
	p.Clear()
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 9, 9}, NoEntry)
	m, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}
	if m.PrefixLen != 3 {
		t.Errorf("PrefixLen = %d, erwartet 3", m.PrefixLen)
	}
}

func TestFindBestMatchTieBreak(t *testing.T) {
	// Laengerer Prefix gewinnt immer, auch bei schlechterer Reuse-Ratio
	p := NewPool(4, 2, 0.1)
	p.Save(mltest.NewCache(), []int32{1, 2, 3}, NoEntry)                       // LCP 3, ratio 1.0
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 9, 9, 9, 9, 9, 9}, NoEntry) // LCP 4, ratio 0.4
	m, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}
	if m.PrefixLen != 4 {
		t.Errorf("PrefixLen = %d, erwartet 4 (laengerer Prefix gewinnt)", m.PrefixLen)
	}

	// Gleicher Prefix: hoehere Reuse-Ratio gewinnt
	p = NewPool(4, 2, 0.1)
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 9, 9, 9}, NoEntry) // ratio 3/6
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 9}, NoEntry)       // ratio 3/4
	m, ok = p.FindBestMatch([]int32{1, 2, 3, 4, 5})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}
	if m.EntryID != 1 {
		t.Errorf("EntryID = %d, erwartet 1 (hoehere Reuse-Ratio)", m.EntryID)
	}
}

func TestLocking(t *testing.T) {
	p := NewPool(2, 3, 0.25)
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 5}, NoEntry)

	m, ok := p.FindBestMatch([]int32{1, 2, 3, 9, 9})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}
	if m.PrefixLen != 3 {
		t.Errorf("PrefixLen = %d, erwartet 3", m.PrefixLen)
	}

	// Gesperrter Eintrag ist fuer weitere Matches unsichtbar
	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 9, 9}); ok {
		t.Error("gesperrter Eintrag darf nicht erneut zurueckgegeben werden")
	}

	p.Unlock(m.EntryID)
	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 9, 9}); !ok {
		t.Error("nach Unlock muss der Eintrag wieder sichtbar sein")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	p := NewPool(2, 3, 0.25)
	tokens := []int32{10, 20, 30, 40, 50}

	p.Save(mltest.NewCache(tokens...), tokens, NoEntry)
	m, ok := p.FindBestMatch(tokens)
	if !ok {
		t.Fatal("Round-Trip Match blieb aus")
	}
	if m.PrefixLen != len(tokens) {
		t.Errorf("PrefixLen = %d, erwartet %d", m.PrefixLen, len(tokens))
	}
	if m.CachedLen != len(tokens) {
		t.Errorf("CachedLen = %d, erwartet %d", m.CachedLen, len(tokens))
	}
}

func TestSaveUpdatesEntryAndUnlocks(t *testing.T) {
	p := NewPool(2, 3, 0.25)
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 5}, NoEntry)

	m, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}

	// Save mit Entry-Id ueberschreibt und entsperrt
	extended := []int32{1, 2, 3, 4, 5, 6, 7}
	p.Save(mltest.NewCache(extended...), extended, m.EntryID)

	m2, ok := p.FindBestMatch(extended)
	if !ok {
		t.Fatal("aktualisierter Eintrag muss wieder sichtbar sein")
	}
	if m2.EntryID != m.EntryID {
		t.Errorf("EntryID = %d, erwartet %d", m2.EntryID, m.EntryID)
	}
	if m2.PrefixLen != len(extended) {
		t.Errorf("PrefixLen = %d, erwartet %d", m2.PrefixLen, len(extended))
	}

	stats := p.Stats()
	if stats.TotalEntries != 1 {
		t.Errorf("TotalEntries = %d, erwartet 1", stats.TotalEntries)
	}
}

func TestEvictionLRU(t *testing.T) {
	p := NewPool(2, 3, 0.25)
	p.Save(mltest.NewCache(), []int32{1, 1, 1, 1}, NoEntry) // entry 0
	p.Save(mltest.NewCache(), []int32{2, 2, 2, 2}, NoEntry) // entry 1

	// Entry 0 auffrischen, damit Entry 1 der aelteste ist
	m, ok := p.FindBestMatch([]int32{1, 1, 1, 1})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}
	p.Unlock(m.EntryID)

	// Pool voll: neuer Save ueberschreibt Entry 1
	p.Save(mltest.NewCache(), []int32{3, 3, 3, 3}, NoEntry)

	if _, ok := p.FindBestMatch([]int32{2, 2, 2, 2}); ok {
		t.Error("evictete Sequenz darf nicht mehr matchen")
	}
	if _, ok := p.FindBestMatch([]int32{3, 3, 3, 3}); !ok {
		t.Error("neue Sequenz muss matchen")
	}
	if got := p.Stats().TotalEntries; got != 2 {
		t.Errorf("TotalEntries = %d, erwartet 2", got)
	}
}

func TestSaveDroppedWhenAllLocked(t *testing.T) {
	p := NewPool(1, 3, 0.25)
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 5}, NoEntry)

	m, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5})
	if !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}

	// Pool voll, einziger Eintrag gesperrt: Save ohne Entry-Id wird verworfen
	p.Save(mltest.NewCache(), []int32{7, 7, 7, 7, 7}, NoEntry)

	p.Unlock(m.EntryID)
	if _, ok := p.FindBestMatch([]int32{7, 7, 7, 7, 7}); ok {
		t.Error("verworfener Save darf den Pool nicht veraendern")
	}
	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5}); !ok {
		t.Error("urspruenglicher Eintrag muss erhalten bleiben")
	}
}

func TestUnlockIdempotent(t *testing.T) {
	p := NewPool(2, 3, 0.25)
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 5}, NoEntry)

	// Unbekannte Ids und NoEntry sind No-Ops
	p.Unlock(NoEntry)
	p.Unlock(42)
	p.Unlock(0)
	p.Unlock(0)

	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5}); !ok {
		t.Error("Eintrag muss nach mehrfachem Unlock verfuegbar sein")
	}
}

func TestStatsAndClear(t *testing.T) {
	p := NewPool(4, 3, 0.25)
	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 5}, NoEntry)

	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 4, 5}); !ok {
		t.Fatal("erwarteter Treffer blieb aus")
	}
	p.FindBestMatch([]int32{9, 9, 9, 9, 9})

	stats := p.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Hits/Misses = %d/%d, erwartet 1/1", stats.Hits, stats.Misses)
	}
	if stats.LockedEntries != 1 || stats.AvailableEntries != 0 {
		t.Errorf("Locked/Available = %d/%d, erwartet 1/0", stats.LockedEntries, stats.AvailableEntries)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("HitRate = %f, erwartet 0.5", stats.HitRate)
	}

	p.Clear()
	stats = p.Stats()
	if stats.TotalEntries != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Errorf("Stats nach Clear = %+v, erwartet leere Werte", stats)
	}
}

// Szenario aus der Pool-Spezifikation: Hit sperrt den Eintrag sofort
func TestScenarioConcurrentSelection(t *testing.T) {
	p := NewPool(2, 3, 0.25)

	p.Save(mltest.NewCache(), []int32{1, 2, 3, 4, 5}, NoEntry)

	m, ok := p.FindBestMatch([]int32{1, 2, 3, 9, 9})
	if !ok {
		t.Fatal("erster Lookup muss treffen")
	}
	if m.PrefixLen != 3 {
		t.Errorf("PrefixLen = %d, erwartet 3", m.PrefixLen)
	}
	if m.EntryID != 0 {
		t.Errorf("EntryID = %d, erwartet 0", m.EntryID)
	}

	// Zweiter identischer Lookup sieht nur den gesperrten Eintrag
	if _, ok := p.FindBestMatch([]int32{1, 2, 3, 9, 9}); ok {
		t.Error("zweiter Lookup muss ein Miss sein solange der Eintrag gesperrt ist")
	}
}
