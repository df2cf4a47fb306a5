package prompts

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_Render(t *testing.T) {
	e := NewTemplateEngine()
	require.NoError(t, e.RegisterTemplate(&Template{
		Name:    "greet",
		Content: "Hi {{name}}, about {{context}}: {{missing}}",
	}))

	tmpl, err := e.GetTemplate("greet")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "context", "missing"}, tmpl.Variables)

	out, err := e.Render("greet", &TemplateContext{
		Context: "the interview",
		Custom:  map[string]string{"name": "Ana"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ana, about the interview: {{missing}}", out)

	_, err = e.Render("unknown", nil)
	assert.Error(t, err)
	assert.Error(t, e.RegisterTemplate(&Template{}))
}

func TestInitializeDefaultTemplates(t *testing.T) {
	e := NewTemplateEngine()
	require.NoError(t, e.InitializeDefaultTemplates())

	for _, rt := range []string{
		"ask_question", "jd_analysis", "cv_component_rephrasing",
		"pattern_analysis", "journal_reflection", "draft_communication",
		"opportunity_evaluation", "profile_summary_tailoring",
	} {
		assert.True(t, e.Has(SystemTemplateName(rt)), rt)
		assert.True(t, e.Has(UserTemplateName(rt)), rt)
	}
	// orion_improvement sends the raw context as the user turn.
	assert.True(t, e.Has(SystemTemplateName("orion_improvement")))
	assert.False(t, e.Has(UserTemplateName("orion_improvement")))

	out, err := e.Render(ProfileTemplate, &TemplateContext{Profile: "Backend engineer"})
	require.NoError(t, err)
	assert.Equal(t, "Here is relevant profile information:\nBackend engineer", out)
}

func TestFormatMemories(t *testing.T) {
	assert.Equal(t, "Memory 1: a\nMemory 2: b", FormatMemories([]string{" a ", "b"}))
	assert.Empty(t, FormatMemories(nil))
}

func TestImportExportTemplate(t *testing.T) {
	e := NewTemplateEngine()
	require.NoError(t, e.ImportTemplate(`{"name":"x","content":"{{a}} and {{b}} and {{a}}"}`))

	out, err := e.ExportTemplate("x")
	require.NoError(t, err)
	assert.Contains(t, out, `"variables": [`)

	tmpl, err := e.GetTemplate("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tmpl.Variables)

	assert.Error(t, e.ImportTemplate("{"))
}

func TestLoadOverrides(t *testing.T) {
	e := NewTemplateEngine()
	require.NoError(t, e.InitializeDefaultTemplates())

	exported, err := e.ExportTemplate(SystemTemplateName("ask_question"))
	require.NoError(t, err)
	var tmpl Template
	require.NoError(t, json.Unmarshal([]byte(exported), &tmpl))
	tmpl.Content = "You answer in one sentence about {{context}}."
	data, err := json.Marshal(tmpl)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ask.json"), data, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	n, err := e.LoadOverrides(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := e.Render(SystemTemplateName("ask_question"), &TemplateContext{Context: "Go"})
	require.NoError(t, err)
	assert.Equal(t, "You answer in one sentence about Go.", out)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o600))
	_, err = e.LoadOverrides(dir)
	assert.ErrorContains(t, err, "broken.json")
}
