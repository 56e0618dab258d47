package embeddings

// knownDimensions lists native output widths for commonly deployed models.
var knownDimensions = map[string]int{
	// OpenAI
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,

	// BGE / sentence-transformers, served by TEI or FastEmbed
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-large-en-v1.5":                 1024,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"nomic-ai/nomic-embed-text-v1.5":         768,

	// FastEmbed model names
	"fast-bge-small-en-v1.5": 384,
	"fast-bge-small-en":      384,
	"fast-bge-base-en-v1.5":  768,
	"fast-bge-base-en":       768,
	"fast-bge-small-zh-v1.5": 512,
	"fast-all-MiniLM-L6-v2":  384,
}

// KnownDimension returns the native width of a known model.
func KnownDimension(model string) (int, bool) {
	dim, ok := knownDimensions[model]
	return dim, ok
}
