// Package embeddings turns question and answer text into vectors for
// clustering and answer matching.
//
// The only backend is FastEmbed (local ONNX, requires cgo). NewProvider
// wraps it with generation metrics and an LRU cache, since the search
// re-embeds the same questions many times across lookahead branches.
package embeddings
