package sample

import (
	"math"
	"testing"
)

func TestGreedy(t *testing.T) {
	s := Greedy()

	got, err := s.Sample([]float32{-4, 2, 7, 1})
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("Sample = %d, erwartet 2", got)
	}

	if _, err := s.Sample(nil); err == nil {
		t.Error("leere Logits muessen ein Fehler sein")
	}
}

func TestNewSamplerZeroTemperature(t *testing.T) {
	// temperature == 0 faellt auf Greedy zurueck
	s := NewSampler(0, 40, 0.9, 42)

	got, err := s.Sample([]float32{1, 5, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("Sample = %d, erwartet 1", got)
	}
}

func TestWeightedTopKOne(t *testing.T) {
	// Top-K 1 laesst nur das groesste Logit uebrig, unabhaengig vom Seed
	for seed := int64(0); seed < 10; seed++ {
		s := NewSampler(0.8, 1, 0, seed)
		got, err := s.Sample([]float32{-1, 3, 0, 2})
		if err != nil {
			t.Fatal(err)
		}
		if got != 1 {
			t.Errorf("seed %d: Sample = %d, erwartet 1", seed, got)
		}
	}
}

func TestWeightedTopPDominantToken(t *testing.T) {
	// Ein dominantes Token traegt praktisch die gesamte Masse; Top-P 0.5
	// verwirft den Rest
	for seed := int64(0); seed < 10; seed++ {
		s := NewSampler(1, 0, 0.5, seed)
		got, err := s.Sample([]float32{0, 20, 0, 0})
		if err != nil {
			t.Fatal(err)
		}
		if got != 1 {
			t.Errorf("seed %d: Sample = %d, erwartet 1", seed, got)
		}
	}
}

func TestWeightedDeterministicSeed(t *testing.T) {
	logits := []float32{0.5, 1.5, 0.2, 1.1, 0.9}

	a := NewSampler(0.7, 0, 0, 1234)
	b := NewSampler(0.7, 0, 0, 1234)
	for i := 0; i < 20; i++ {
		x, err := a.Sample(logits)
		if err != nil {
			t.Fatal(err)
		}
		y, err := b.Sample(logits)
		if err != nil {
			t.Fatal(err)
		}
		if x != y {
			t.Fatalf("Schritt %d: %d != %d bei gleichem Seed", i, x, y)
		}
	}
}

func TestRepetitionPenalty(t *testing.T) {
	p := NewRepetitionPenalty(2, 0)

	logits := p.Apply([]int32{0, 2}, []float32{4, 1, -2})
	if logits[0] != 2 {
		t.Errorf("positives Logit = %f, erwartet 4/2", logits[0])
	}
	if logits[1] != 1 {
		t.Errorf("unbestraftes Logit = %f, erwartet 1", logits[1])
	}
	if logits[2] != -4 {
		t.Errorf("negatives Logit = %f, erwartet -2*2", logits[2])
	}
}

func TestRepetitionPenaltyWindow(t *testing.T) {
	// Nur die letzten contextSize Tokens der Historie zaehlen
	p := NewRepetitionPenalty(2, 2)

	logits := p.Apply([]int32{0, 1, 2}, []float32{4, 4, 4})
	if logits[0] != 4 {
		t.Errorf("Token ausserhalb des Fensters bestraft: %f", logits[0])
	}
	if logits[1] != 2 || logits[2] != 2 {
		t.Errorf("Fenster-Tokens = %f/%f, erwartet 2/2", logits[1], logits[2])
	}
}

func TestRepetitionPenaltyNoop(t *testing.T) {
	p := NewRepetitionPenalty(1, 0)

	logits := p.Apply([]int32{0}, []float32{4})
	if logits[0] != 4 {
		t.Errorf("Penalty 1 muss ein No-Op sein, Logit = %f", logits[0])
	}

	// Token-Ids ausserhalb des Vokabulars werden ignoriert
	p = NewRepetitionPenalty(2, 0)
	logits = p.Apply([]int32{99}, []float32{4})
	if logits[0] != 4 {
		t.Errorf("Out-of-Range Token veraendert Logits: %f", logits[0])
	}
}

func TestCalculateLogprobs(t *testing.T) {
	decoder := func(id int) string {
		return string(rune('a' + id))
	}

	// Uniforme Logits: Logprob = -ln(n)
	lps := CalculateLogprobs([]float32{0, 0, 0, 0}, 2, 0, decoder)
	if len(lps) != 1 {
		t.Fatalf("len = %d, erwartet 1", len(lps))
	}
	if lps[0].Token != "c" {
		t.Errorf("Token = %q, erwartet \"c\"", lps[0].Token)
	}
	if want := -math.Log(4); math.Abs(lps[0].Logprob-want) > 1e-9 {
		t.Errorf("Logprob = %f, erwartet %f", lps[0].Logprob, want)
	}
	if len(lps[0].TopLogprobs) != 0 {
		t.Errorf("TopLogprobs = %v, erwartet keine", lps[0].TopLogprobs)
	}
}

func TestCalculateLogprobsTopK(t *testing.T) {
	decoder := func(id int) string {
		return string(rune('a' + id))
	}

	lps := CalculateLogprobs([]float32{1, 3, 2}, 1, 2, decoder)
	if len(lps) != 1 {
		t.Fatalf("len = %d, erwartet 1", len(lps))
	}

	top := lps[0].TopLogprobs
	if len(top) != 2 {
		t.Fatalf("TopLogprobs len = %d, erwartet 2", len(top))
	}
	if top[0].Token != "b" || top[1].Token != "c" {
		t.Errorf("Top-Tokens = %q/%q, erwartet b/c", top[0].Token, top[1].Token)
	}
	if top[0].Logprob < top[1].Logprob {
		t.Error("TopLogprobs muessen absteigend sortiert sein")
	}
	if lps[0].Logprob != top[0].Logprob {
		t.Errorf("Logprob des gewaehlten Tokens = %f, erwartet %f", lps[0].Logprob, top[0].Logprob)
	}

	if got := CalculateLogprobs(nil, 0, 0, decoder); got != nil {
		t.Errorf("leere Logits = %v, erwartet nil", got)
	}
}
