// engine.go - Generation-Engine mit Chunked Prefill und Decode-Pipeline
//
// Enthaelt:
// - Engine: Kernschleife fuer Textgenerierung
// - Run: Prefill, erstes Token, Decode-Loop mit One-Step-Ahead Prefetch
//
// Abbruch wird an genau zwei Punkten geprueft: vor jedem Prefill-Chunk und
// vor jedem Decode-Schritt. Fragmente werden strikt in Sampling-Reihenfolge
// emittiert; der Prefetch ueberholt die Validierung nie nach aussen sichtbar.

package engine

import (
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/mlxserve/mlxserve/envconfig"
	"github.com/mlxserve/mlxserve/llm"
	"github.com/mlxserve/mlxserve/logutil"
	"github.com/mlxserve/mlxserve/ml"
	"github.com/mlxserve/mlxserve/sample"
)

var errEmptySuffix = errors.New("prompt suffix must contain at least one token")

// Engine treibt den Model-Executor fuer einzelne Requests
type Engine struct {
	model ml.Model
	proc  ml.TextProcessor
}

func New(model ml.Model, proc ml.TextProcessor) *Engine {
	return &Engine{model: model, proc: proc}
}

// step ist das Ergebnis eines vorausberechneten Decode-Schritts
type step struct {
	token  int32
	logits []float32
	err    error
}

// Run fuehrt einen Generierungslauf aus. emit wird fuer jedes freigegebene
// Fragment in Sampling-Reihenfolge aufgerufen; Rueckgabe false beendet den
// Lauf (Consumer weg). Fehler des Executors propagieren; die Cache-Sperre
// freizugeben bleibt in jedem Fall Sache des Aufrufers.
func (e *Engine) Run(gctx *Context, params Params, emit func(Fragment) bool) (*Result, error) {
	if gctx == nil {
		gctx = NewContext()
	}
	if len(params.Suffix) == 0 {
		return nil, errEmptySuffix
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = int(envconfig.MaxTokens())
	}

	batchSize := params.PrefillBatch
	if batchSize <= 0 {
		batchSize = int(envconfig.PrefillBatch())
	}

	sampler := params.Sampler
	if sampler == nil {
		sampler = sample.Greedy()
	}

	eosIDs := params.EOSTokenIDs
	if len(eosIDs) == 0 {
		eosIDs = e.proc.EOSTokenIDs()
	}
	eos := make(map[int32]struct{}, len(eosIDs))
	for _, id := range eosIDs {
		eos[id] = struct{}{}
	}

	history := params.History
	if len(history) == 0 {
		history = params.Suffix
	}
	history = slices.Clone(history)

	matcher := NewStopMatcher(e.proc, params.Stop)
	res := &Result{DoneReason: llm.DoneReasonLength}

	// Transientes Scratch-State wird auf jedem Exit-Pfad freigegeben,
	// auch bei Executor-Fehlern
	defer e.model.ClearScratch()

	// Chunked Prefill ueber alle Suffix-Tokens bis auf das letzte
	start := time.Now()
	n := len(params.Suffix)
	for i := 0; i < n-1; i += batchSize {
		if gctx.Cancelled() {
			slog.Debug("request cancelled during prefill")
			res.DoneReason = llm.DoneReasonCancelled
			return res, nil
		}

		end := min(i+batchSize, n-1)
		if _, err := e.model.Forward(params.Suffix[i:end], params.Cache); err != nil {
			return nil, err
		}
		logutil.Trace("prefill chunk processed", "from", i, "to", end, "total", n-1)

		if params.Progress != nil {
			percent := min(100, 100*float64(end)/float64(n-1))
			if !params.Progress(percent) {
				slog.Debug("prefill cancelled by progress callback", "percent", percent)
				gctx.Cancel()
				res.DoneReason = llm.DoneReasonCancelled
				return res, nil
			}
		}
	}

	// Letztes Suffix-Token liefert die Logits fuer das erste Decode-Token
	logits, err := e.model.Forward(params.Suffix[n-1:], params.Cache)
	if err != nil {
		return nil, err
	}
	for _, proc := range params.Processors {
		logits = proc.Apply(history, logits)
	}
	cur, err := sampler.Sample(logits)
	if err != nil {
		return nil, err
	}
	res.PrefillDuration = time.Since(start)

	decodeStart := time.Now()
	defer func() {
		res.DecodeDuration = time.Since(decodeStart)
	}()

	// One-Step-Ahead Pipeline: waehrend Token i validiert wird, berechnet
	// der Prefetch bereits die Logits fuer Token i+1. Es ist nie mehr als
	// ein Forward in flight; vor jeder Rueckkehr wird das Ergebnis
	// abgenommen, damit der Cache nach der Rueckgabe nicht weiter mutiert.
	pending := make(chan step, 1)
	inflight := false

	prefetch := func(tok int32) {
		hist := history
		go func() {
			logits, err := e.model.Forward([]int32{tok}, params.Cache)
			if err != nil {
				pending <- step{err: err}
				return
			}
			for _, proc := range params.Processors {
				logits = proc.Apply(hist, logits)
			}
			next, err := sampler.Sample(logits)
			pending <- step{token: next, logits: logits, err: err}
		}()
	}

	drain := func() {
		if inflight {
			if st := <-pending; st.err != nil {
				slog.Debug("discarding speculative decode error", "error", st.err)
			}
			inflight = false
		}
	}

	curLogits := logits
	for i := 0; i < params.MaxTokens; i++ {
		if gctx.Cancelled() {
			slog.Debug("request cancelled during decode", "generated", res.EvalCount)
			res.DoneReason = llm.DoneReasonCancelled
			return res, nil
		}

		history = append(history, cur)
		if i < params.MaxTokens-1 {
			prefetch(cur)
			inflight = true
		}

		// Das EOS-Token beendet die Generierung ohne emittiert oder gezaehlt
		// zu werden
		if _, ok := eos[cur]; ok {
			slog.Debug("generation stopped by eos token", "token", cur, "generated", res.EvalCount)
			res.DoneReason = llm.DoneReasonStop
			drain()
			return res, nil
		}
		res.EvalCount++

		text, stopped, stopTokens, err := matcher.Push(cur)
		if err != nil {
			drain()
			return nil, err
		}

		if text != "" {
			frag := Fragment{Token: Token{ID: cur, Text: text}}
			if params.Logprobs {
				frag.Logprobs = sample.CalculateLogprobs(curLogits, int(cur), params.TopLogprobs, func(id int) string {
					piece, _ := e.proc.Decode([]int32{int32(id)})
					return piece
				})
				if len(frag.Logprobs) > 0 {
					frag.Token.Logprob = frag.Logprobs[0].Logprob
				}
			}

			if !emit(frag) {
				slog.Debug("consumer gone, stopping generation", "generated", res.EvalCount)
				res.DoneReason = llm.DoneReasonConnectionClosed
				drain()
				return res, nil
			}
		}

		if stopped {
			slog.Debug("generation stopped by stop sequence", "stop_tokens", stopTokens, "generated", res.EvalCount)
			res.DoneReason = llm.DoneReasonStop
			res.StopTokens = stopTokens
			drain()
			return res, nil
		}

		if i < params.MaxTokens-1 {
			st := <-pending
			inflight = false
			if st.err != nil {
				return nil, st.err
			}
			cur = st.token
			curLogits = st.logits
		}
	}

	// MaxTokens erreicht
	return res, nil
}
