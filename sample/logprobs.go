// logprobs.go - Log-Wahrscheinlichkeiten fuer gesampelte Tokens
//
// Enthaelt:
// - CalculateLogprobs: Logprob des gewaehlten Tokens plus Top-K Alternativen

package sample

import (
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/mlxserve/mlxserve/llm"
)

// CalculateLogprobs berechnet den Logprob des gewaehlten Tokens und optional
// die topK wahrscheinlichsten Alternativen. decoder rendert Token-Ids zu Text.
func CalculateLogprobs(logits []float32, selected int, topK int, decoder func(int) string) []llm.Logprob {
	if len(logits) == 0 {
		return nil
	}

	scaled := make([]float64, len(logits))
	for i, l := range logits {
		scaled[i] = float64(l)
	}
	lse := floats.LogSumExp(scaled)

	result := llm.Logprob{
		TokenLogprob: llm.TokenLogprob{
			Token:   decoder(selected),
			Logprob: scaled[selected] - lse,
		},
	}

	if topK > 0 {
		order := make([]int, len(scaled))
		for i := range order {
			order[i] = i
		}
		slices.SortFunc(order, func(a, b int) int {
			switch {
			case scaled[a] > scaled[b]:
				return -1
			case scaled[a] < scaled[b]:
				return 1
			}
			return 0
		})

		if topK > len(order) {
			topK = len(order)
		}
		for _, idx := range order[:topK] {
			result.TopLogprobs = append(result.TopLogprobs, llm.TokenLogprob{
				Token:   decoder(idx),
				Logprob: scaled[idx] - lse,
			})
		}
	}

	return []llm.Logprob{result}
}
