package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/ragd/internal/pipeline"
)

// WriteAnswer prints the answer text followed by its sources and context
// hint.
func WriteAnswer(w io.Writer, ans *pipeline.Answer) {
	fmt.Fprintln(w, ans.AnswerText)
	if len(ans.Sources) > 0 {
		tags := make([]string, len(ans.Sources))
		for i, s := range ans.Sources {
			tags[i] = s.Tag
		}
		fmt.Fprintf(w, "Sources: %s\n", strings.Join(tags, ", "))
	}
	if ans.ContextHint != "" {
		fmt.Fprintf(w, "Context: %s\n", ans.ContextHint)
	}
}

// WriteHealth prints a health report, one field per line.
func WriteHealth(w io.Writer, hs pipeline.HealthStatus) {
	fmt.Fprintf(w, "Status:       %s\n", hs.Status)
	fmt.Fprintf(w, "Embeddings:   %s\n", hs.Services[pipeline.ServiceEmbeddings])
	fmt.Fprintf(w, "Vector index: %s\n", hs.Services[pipeline.ServiceVectorIndex])
	if hs.Generation != "" {
		fmt.Fprintf(w, "Generation:   %s (%d chunks)\n", hs.Generation, hs.IndexedChunks)
	}
}
