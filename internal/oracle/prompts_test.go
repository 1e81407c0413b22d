package oracle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSynthesisPromptCarriesDocumentVerbatim(t *testing.T) {
	html := `<html><body><h1 class="k">Quarterly Results</h1></body></html>`
	prompt := synthesisPrompt(html)

	assert.Contains(t, prompt, "<HTML>\n"+html+"\n</HTML>")
	assert.Contains(t, prompt, "builder.py --html input.html --out output.pptx")
	assert.Contains(t, prompt, "1 px = 9525 EMU")
}

func TestRepairPromptCarriesCodeAndTranscriptVerbatim(t *testing.T) {
	source := "from pptx import Presentation\nraise RuntimeError('nope')"
	transcript := "STDOUT:\n\n\nSTDERR:\nTraceback (most recent call last):\n  RuntimeError: nope"

	prompt := repairPrompt(source, transcript)

	assert.Contains(t, prompt, source)
	assert.Contains(t, prompt, transcript)
	assert.True(t, strings.Index(prompt, "FAULTY CODE") < strings.Index(prompt, source))
	assert.True(t, strings.Index(prompt, "EXECUTION OUTPUT") < strings.Index(prompt, transcript))
}
