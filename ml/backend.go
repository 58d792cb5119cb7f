// backend.go - Capability-Interfaces fuer den Model-Executor
//
// Dieses Modul definiert die schmale Schnittstelle zwischen Serving-Core und
// GPU-Backend. Der Core kennt weder Tensoren noch Layer; er sieht nur:
// - Model: Forward Pass ueber Token-Batches, mutiert den Cache in-place
// - Cache: opakes Attention-State mit Offset/Trim
// - CacheFactory: erstellt leere Caches fuer das Kontextfenster
// - TextProcessor: Encode/Decode plus EOS-Token-Menge
package ml

// Cache is opaque per-layer attention state. A cache encodes a logical token
// sequence; Forward extends it in place. Caches are not safe for concurrent
// writers - ownership is expressed through the prompt cache pool's entry lock.
type Cache interface {
	// Offset reports how many tokens the cache currently encodes.
	Offset() int

	// Trim drops the most recent n tokens, clamped to Offset. It returns the
	// number of tokens actually removed.
	Trim(n int) int
}

// Model is the executor capability the generation engine drives. Forward
// processes tokens against cache, extending the encoded state by len(tokens),
// and returns the logits of the final position (vocab-sized). The call blocks
// until the device state is realized; repeated calls continue at the cache's
// logical offset.
type Model interface {
	Forward(tokens []int32, cache Cache) ([]float32, error)

	// ClearScratch releases transient device-side scratch state. The engine
	// calls this on every exit path; it must be safe to call repeatedly.
	ClearScratch()
}

// CacheFactory produces empty caches sized to the model's context window.
type CacheFactory interface {
	NewCache(maxContextLen int) Cache
}

// TextProcessor converts between text and token ids.
//
// Decode renders an incomplete trailing multi-byte sequence as U+FFFD so that
// callers can withhold output until the character completes.
type TextProcessor interface {
	Encode(s string) ([]int32, error)
	Decode(tokens []int32) (string, error)

	// EOSTokenIDs lists the token ids that terminate generation.
	EOSTokenIDs() []int32
}
