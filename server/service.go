// service.go - Orchestrierung einzelner Completion-Requests
//
// Enthaelt:
// - Service: Admission, Cache-Lookup, Engine-Lauf, Cache-Rueckgabe
//
// Ablauf pro Request: Prompt encodieren, besten Cache-Prefix suchen und
// sperren, Cache auf den Prefix trimmen, Engine laufen lassen, konsumierten
// Text re-tokenisieren und den Cache aligned in den Pool zuruecklegen. Auf
// jedem Fehlerpfad wird die Sperre des Eintrags freigegeben.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mlxserve/mlxserve/envconfig"
	"github.com/mlxserve/mlxserve/llm"
	"github.com/mlxserve/mlxserve/logutil"
	"github.com/mlxserve/mlxserve/ml"
	"github.com/mlxserve/mlxserve/promptcache"
	"github.com/mlxserve/mlxserve/runner/engine"
	"github.com/mlxserve/mlxserve/sample"
)

// Default-Kontextfenster der Repetition Penalty, wenn der Request keins setzt
const defaultRepetitionContext = 20

var (
	errEmptyPrompt  = errors.New("prompt must not be empty")
	errInputTooLong = errors.New("prompt exceeds context length")
)

// Service fuehrt Completion-Requests gegen den Executor aus. Die Anzahl
// gleichzeitiger Generierungen ist ueber eine Semaphore begrenzt; der
// Prompt-Cache-Pool wird zwischen allen Requests geteilt.
type Service struct {
	engine  *engine.Engine
	proc    ml.TextProcessor
	pool    *promptcache.Pool
	factory ml.CacheFactory

	contextLen int
	sem        *semaphore.Weighted
}

func NewService(model ml.Model, proc ml.TextProcessor, factory ml.CacheFactory) *Service {
	return &Service{
		engine:     engine.New(model, proc),
		proc:       proc,
		pool:       promptcache.NewPool(int(envconfig.MaxCaches()), int(envconfig.MinPrefix()), envconfig.MinReuseRatio()),
		factory:    factory,
		contextLen: int(envconfig.ContextLength()),
		sem:        semaphore.NewWeighted(int64(envconfig.NumParallel())),
	}
}

// resolveCache sucht einen wiederverwendbaren Cache fuer tokens und trimmt ihn
// auf den gematchten Prefix. Ohne Treffer (oder bei inkonsistentem Eintrag)
// kommt ein frischer Cache zurueck; entryID ist dann NoEntry.
func (s *Service) resolveCache(requestID string, tokens []int32) (ml.Cache, []int32, int64) {
	m, ok := s.pool.FindBestMatch(tokens)
	if !ok {
		return s.factory.NewCache(s.contextLen), tokens, promptcache.NoEntry
	}

	// Der Cache muss mindestens den gematchten Prefix encodieren, sonst ist
	// der Eintrag inkonsistent und wird wie ein Miss behandelt
	if m.Cache.Offset() < m.PrefixLen {
		slog.Warn("cache offset below matched prefix, treating as miss",
			"request_id", requestID,
			"entry_id", m.EntryID,
			"offset", m.Cache.Offset(),
			"prefix_len", m.PrefixLen)
		s.pool.Unlock(m.EntryID)
		return s.factory.NewCache(s.contextLen), tokens, promptcache.NoEntry
	}

	prefixLen := m.PrefixLen
	// Vollstaendiger Treffer: ein Token zuruecktrimmen, damit der Suffix das
	// letzte Prompt-Token enthaelt und die ersten Logits liefern kann
	if prefixLen == len(tokens) {
		prefixLen--
	}

	m.Cache.Trim(m.Cache.Offset() - prefixLen)
	logutil.Trace("cache prefix reused",
		"request_id", requestID,
		"entry_id", m.EntryID,
		"prefix_len", prefixLen,
		"prompt", len(tokens))
	return m.Cache, tokens[prefixLen:], m.EntryID
}

// Complete fuehrt einen Completion-Request aus und ruft fn fuer jeden
// Streaming-Chunk auf, zuletzt mit dem Terminal-Chunk (Done). Gibt fn false
// zurueck gilt der Consumer als weg. ctx abzubrechen stoppt die Generierung
// an ihrem naechsten Abbruchpunkt.
func (s *Service) Complete(ctx context.Context, req llm.CompletionRequest, fn func(llm.CompletionResponse) bool) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	requestID := uuid.NewString()

	tokens, err := s.proc.Encode(req.Prompt)
	if err != nil {
		return fmt.Errorf("encoding prompt: %w", err)
	}
	if len(tokens) == 0 {
		return errEmptyPrompt
	}
	if len(tokens) >= s.contextLen {
		return fmt.Errorf("%w: %d tokens, context length %d", errInputTooLong, len(tokens), s.contextLen)
	}

	cache, suffix, entryID := s.resolveCache(requestID, tokens)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > s.contextLen-len(tokens) {
		maxTokens = s.contextLen - len(tokens)
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var processors []sample.Processor
	if req.RepetitionPenalty > 0 && req.RepetitionPenalty != 1 {
		contextSize := req.RepetitionContextSize
		if contextSize <= 0 {
			contextSize = defaultRepetitionContext
		}
		processors = append(processors, sample.NewRepetitionPenalty(req.RepetitionPenalty, contextSize))
	}

	gctx := engine.NewContext()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			gctx.Cancel()
		case <-done:
		}
	}()

	slog.Debug("starting generation",
		"request_id", requestID,
		"prompt", len(tokens),
		"suffix", len(suffix),
		"max_tokens", maxTokens)

	var generated strings.Builder
	res, err := s.engine.Run(gctx, engine.Params{
		Suffix:       suffix,
		Cache:        cache,
		History:      tokens,
		MaxTokens:    maxTokens,
		Sampler:      sample.NewSampler(req.Temperature, req.TopK, req.TopP, seed),
		Processors:   processors,
		Stop:         req.Stop,
		PrefillBatch: int(envconfig.PrefillBatch()),
		Logprobs:     req.Logprobs,
		TopLogprobs:  req.TopLogprobs,
	}, func(f engine.Fragment) bool {
		generated.WriteString(f.Token.Text)
		return fn(llm.CompletionResponse{Content: f.Token.Text, Logprobs: f.Logprobs})
	})
	if err != nil {
		s.pool.Unlock(entryID)
		return fmt.Errorf("generation failed: %w", err)
	}

	s.finish(requestID, cache, tokens, generated.String(), entryID)

	fn(llm.CompletionResponse{
		Done:               true,
		DoneReason:         res.DoneReason,
		PromptEvalCount:    len(suffix),
		PromptEvalDuration: res.PrefillDuration,
		EvalCount:          res.EvalCount,
		EvalDuration:       res.DecodeDuration,
	})

	slog.Debug("generation finished",
		"request_id", requestID,
		"done_reason", res.DoneReason,
		"eval_count", res.EvalCount)
	return nil
}

// finish re-tokenisiert den konsumierten Text, trimmt den Cache auf die
// resultierende Sequenz und legt ihn in den Pool zurueck. Die re-tokenisierte
// Sequenz kann von den gesampelten Token-Ids abweichen (Tokenizer-Merges);
// massgeblich ist, was ein Folgerequest mit identischem Prompt encodieren
// wuerde.
func (s *Service) finish(requestID string, cache ml.Cache, prompt []int32, generated string, entryID int64) {
	genTokens, err := s.proc.Encode(generated)
	if err != nil {
		slog.Warn("cannot re-tokenize generated text, dropping cache", "request_id", requestID, "error", err)
		s.pool.Unlock(entryID)
		return
	}

	full := append(slices.Clone(prompt), genTokens...)
	if delta := cache.Offset() - len(full); delta >= 0 {
		cache.Trim(delta)
	} else {
		// Das letzte gesampelte Token wurde nie durch den Executor geschoben
		// (Laengenlimit) oder die Re-Tokenisierung weicht ab; der Eintrag
		// beschreibt nur den tatsaechlich encodierten Teil
		logutil.Trace("recorded tokens truncated to cache offset",
			"request_id", requestID,
			"cache", cache.Offset(),
			"tokens", len(full))
		full = full[:cache.Offset()]
	}

	s.pool.Save(cache, full, entryID)
}

// CacheStats gibt die Kennzahlen des Prompt-Cache-Pools zurueck
func (s *Service) CacheStats() promptcache.Stats {
	return s.pool.Stats()
}

// ClearCache verwirft alle gehaltenen Prompt-Caches
func (s *Service) ClearCache() {
	s.pool.Clear()
}
