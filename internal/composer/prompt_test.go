package composer

import (
	"strings"
	"testing"
	"text/template"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender_FillsVariables(t *testing.T) {
	out, err := Render(Router, map[string]string{
		"user_input":   "Run nmap on scanme.nmap.org",
		"chat_history": "(no conversation history)",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Request: Run nmap on scanme.nmap.org\nCategory:")
	assert.Contains(t, out, "tool-execution")
	assert.Contains(t, out, "(no conversation history)")
}

func TestRender_MissingVariable(t *testing.T) {
	_, err := Render(Analysis, map[string]string{"user_input": "x"})
	assert.ErrorContains(t, err, "recon_results")
}

func TestRender_NoHTMLEscaping(t *testing.T) {
	out, err := Render(Analysis, map[string]string{"recon_results": `<script>alert("x")</script> & more`})
	require.NoError(t, err)
	assert.Contains(t, out, `<script>alert("x")</script> & more`)
}

func TestRender_Unknown(t *testing.T) {
	_, err := Render(Prompt("nope"), nil)
	assert.Error(t, err)
}

func TestVariables(t *testing.T) {
	assert.Equal(t, []string{"exploitation_results", "rag_context"}, Variables(Actionable))
	assert.Equal(t, []string{"user_input", "recon_results", "analysis_results", "exploitation_results", "rag_context", "actionable_intelligence"},
		Variables(ManualGuide))
	assert.Equal(t, []string{"source", "document"}, Variables(SourceSummary))
	assert.Nil(t, Variables(Prompt("nope")))
}

func TestVariables_WalksActionsOnly(t *testing.T) {
	tmpl := template.Must(template.New("t").Parse(
		"{{/* {{.hidden}} */}}{{ .flag }}{{if .flag}}{{.inner}}{{else}}{{.other | printf \"%s\"}}{{end}}"))
	templates["test_walk"] = tmpl
	t.Cleanup(func() { delete(templates, "test_walk") })

	assert.Equal(t, []string{"flag", "inner", "other"}, Variables("test_walk"))
}

func TestDocument_TruncatesByRune(t *testing.T) {
	short := "nmap -sV"
	assert.Equal(t, short, Document(short))

	long := strings.Repeat("é", MaxDocumentRunes+10)
	got := Document(long)
	assert.Equal(t, MaxDocumentRunes, utf8.RuneCountInString(got))
	assert.True(t, utf8.ValidString(got))
}

func TestSourcePrompts(t *testing.T) {
	out, err := Render(SourceSummary, map[string]string{"source": "owasp.md", "document": "A03 Injection"})
	require.NoError(t, err)
	assert.Contains(t, out, `Document "owasp.md":`)
	assert.Contains(t, out, "A03 Injection")

	_, err = Render(SuggestedQuestions, map[string]string{"source": "owasp.md"})
	assert.ErrorContains(t, err, "document")
}

func TestReconStatesGenericAssumption(t *testing.T) {
	out, err := Render(Recon, map[string]string{"user_input": "make a pentest plan"})
	require.NoError(t, err)
	assert.Contains(t, out, "e-commerce")
}

func TestAllTemplatesRender(t *testing.T) {
	for name := range sources {
		vars := map[string]string{}
		for _, v := range Variables(name) {
			vars[v] = "value"
		}
		_, err := Render(name, vars)
		assert.NoError(t, err, name)
	}
}
