// Package embeddings generates text embeddings through pluggable providers.
//
// Supported providers are OpenAI-compatible endpoints (via langchaingo),
// HuggingFace Text Embeddings Inference, FastEmbed (local ONNX, cgo builds
// only) and a deterministic hash embedder for offline runs. NewProvider wraps
// each one with the call timeout, dimension checks and OTEL metrics.
package embeddings
