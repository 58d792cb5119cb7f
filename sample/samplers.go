// samplers.go - Token-Sampling aus Logits
//
// Enthaelt:
// - Sampler: Interface fuer Token-Auswahl
// - Greedy: Arg-Max Sampling (Default)
// - NewSampler: Temperature/Top-K/Top-P Sampling

package sample

import (
	"errors"
	"math"
	"slices"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// Sampler waehlt ein Token aus den Logits der letzten Position
type Sampler interface {
	Sample(logits []float32) (int32, error)
}

var errEmptyLogits = errors.New("empty logits")

type greedy struct{}

func (greedy) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return 0, errEmptyLogits
	}

	best := 0
	for i, l := range logits {
		if l > logits[best] {
			best = i
		}
	}
	return int32(best), nil
}

// Greedy gibt den Arg-Max Sampler zurueck
func Greedy() Sampler {
	return greedy{}
}

type weighted struct {
	temperature float32
	topK        int
	topP        float32
	src         rand.Source
}

// NewSampler erstellt einen Sampler mit den ueblichen Transformationen.
// temperature == 0 ergibt Greedy-Sampling.
func NewSampler(temperature float32, topK int, topP float32, seed int64) Sampler {
	if temperature == 0 {
		return greedy{}
	}

	return &weighted{
		temperature: temperature,
		topK:        topK,
		topP:        topP,
		src:         rand.NewSource(uint64(seed)),
	}
}

func (s *weighted) Sample(logits []float32) (int32, error) {
	if len(logits) == 0 {
		return 0, errEmptyLogits
	}

	scaled := make([]float64, len(logits))
	for i, l := range logits {
		scaled[i] = float64(l) / float64(s.temperature)
	}

	// Top-K: alles ausserhalb der K groessten Logits maskieren
	if s.topK > 0 && s.topK < len(scaled) {
		order := make([]int, len(scaled))
		floats.Argsort(scaled, order)
		// Argsort sortiert scaled in-place aufsteigend; order bildet auf die
		// urspruenglichen Indizes ab
		masked := make([]float64, len(scaled))
		for i := range masked {
			masked[i] = math.Inf(-1)
		}
		for i := len(scaled) - s.topK; i < len(scaled); i++ {
			masked[order[i]] = scaled[i]
		}
		scaled = masked
	}

	// Softmax
	lse := floats.LogSumExp(scaled)
	probs := make([]float64, len(scaled))
	for i, l := range scaled {
		probs[i] = math.Exp(l - lse)
	}

	// Top-P: kleinste Wahrscheinlichkeiten verwerfen bis die kumulierte
	// Masse der verbleibenden topP erreicht
	if s.topP > 0 && s.topP < 1 {
		order := make([]int, len(probs))
		for i := range order {
			order[i] = i
		}
		slices.SortFunc(order, func(a, b int) int {
			switch {
			case probs[a] > probs[b]:
				return -1
			case probs[a] < probs[b]:
				return 1
			}
			return 0
		})

		var cum float64
		cut := len(order)
		for i, idx := range order {
			cum += probs[idx]
			if cum >= float64(s.topP) {
				cut = i + 1
				break
			}
		}
		for _, idx := range order[cut:] {
			probs[idx] = 0
		}
	}

	idx, ok := sampleuv.NewWeighted(probs, s.src).Take()
	if !ok {
		return 0, errors.New("sampling failed: no probability mass")
	}
	return int32(idx), nil
}
