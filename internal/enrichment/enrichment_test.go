package enrichment

import (
	"testing"

	"github.com/ingestlane/pipeline/internal/pipeline"
	"github.com/stretchr/testify/assert"
)

// TestBuildEmbeddingInputAllEmptyFieldsYieldsEmptyString guards the
// all-zero-vector short circuit in embedclient.Client.Embed, which only
// fires on an exact text == "" match: joining empty title/transcript
// parts with a separator must not leave a stray " " behind.
func TestBuildEmbeddingInputAllEmptyFieldsYieldsEmptyString(t *testing.T) {
	t.Parallel()
	input := buildEmbeddingInput(pipeline.TextFields{}, "")
	assert.Equal(t, "", input)
}

func TestBuildEmbeddingInputJoinsTitleAndTranscript(t *testing.T) {
	t.Parallel()
	fields := pipeline.TextFields{Title: "A Title", Excerpt: "An excerpt"}
	input := buildEmbeddingInput(fields, "transcript body")
	assert.Equal(t, "A Title transcript body An excerpt", input)
}

func TestBuildEmbeddingInputFallsBackToBodyWhenNoTranscript(t *testing.T) {
	t.Parallel()
	fields := pipeline.TextFields{Title: "A Title", Body: "body text"}
	input := buildEmbeddingInput(fields, "")
	assert.Equal(t, "A Title body text", input)
}

func TestBuildEmbeddingInputOmitsDuplicateExcerpt(t *testing.T) {
	t.Parallel()
	fields := pipeline.TextFields{Title: "A Title", Excerpt: "A Title"}
	input := buildEmbeddingInput(fields, "")
	assert.Equal(t, "A Title", input)
}
