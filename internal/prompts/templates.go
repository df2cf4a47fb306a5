package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// TemplateContext holds variables for template rendering
type TemplateContext struct {
	// Primary context supplied by the caller
	Context  string `json:"context"`
	Question string `json:"question"`

	// Supporting context
	Profile  string `json:"profile"`
	Memories string `json:"memories"`

	// Additional variables, e.g. tone or recipient for draft_communication
	Custom map[string]string `json:"custom"`
}

// NewTemplateEngine creates a new template engine
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: make(map[string]*Template),
	}
}

// RegisterTemplate registers a new template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) error {
	if tmpl == nil || tmpl.Name == "" {
		return fmt.Errorf("template name is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}
	e.templates[tmpl.Name] = tmpl
	return nil
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Has reports whether a template is registered.
func (e *TemplateEngine) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.templates[name]
	return ok
}

// Render renders a template with the given context
func (e *TemplateEngine) Render(templateName string, ctx *TemplateContext) (string, error) {
	tmpl, err := e.GetTemplate(templateName)
	if err != nil {
		return "", err
	}
	if ctx == nil {
		ctx = &TemplateContext{}
	}

	return renderTemplate(tmpl, ctx), nil
}

// renderTemplate replaces {{variable_name}} placeholders. Unknown variables
// are kept so a missing value is visible in the prompt.
func renderTemplate(tmpl *Template, ctx *TemplateContext) string {
	return varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		varName := varRegex.FindStringSubmatch(match)[1]
		if value, ok := getVariableValue(ctx, varName); ok {
			return value
		}
		return match
	})
}

// getVariableValue retrieves a variable value from context
func getVariableValue(ctx *TemplateContext, varName string) (string, bool) {
	switch varName {
	case "context":
		return ctx.Context, true
	case "question":
		return ctx.Question, true
	case "profile":
		return ctx.Profile, true
	case "memories":
		return ctx.Memories, true
	default:
		if ctx.Custom != nil {
			if val, ok := ctx.Custom[varName]; ok {
				return val, true
			}
		}
		return "", false
	}
}

// Names returns the registered template names, sorted.
func (e *TemplateEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SystemTemplateName is the system prompt template of a request type.
func SystemTemplateName(requestType string) string {
	return requestType + ".system"
}

// UserTemplateName frames the primary context of a request type.
func UserTemplateName(requestType string) string {
	return requestType + ".user"
}

// Shared template names
const (
	ProfileTemplate  = "shared.profile"
	MemoryTemplate   = "shared.memories"
	FallbackTemplate = "shared.system"
)

// InitializeDefaultTemplates registers the system and user templates of every
// request type plus the shared profile and memory blocks.
func (e *TemplateEngine) InitializeDefaultTemplates() error {
	templates := []*Template{
		{
			Name:        FallbackTemplate,
			Description: "System prompt used when a request type has none",
			Content:     "You are a helpful AI assistant. Provide clear and accurate responses while maintaining context.",
		},
		{
			Name:        ProfileTemplate,
			Description: "Profile block prepended to the conversation",
			Content:     "Here is relevant profile information:\n{{profile}}",
		},
		{
			Name:        MemoryTemplate,
			Description: "Retrieved memories prepended to the conversation",
			Content:     "Relevant memories from past entries:\n{{memories}}",
		},

		{
			Name:        SystemTemplateName("ask_question"),
			Description: "General question answering",
			Content: "You are a helpful AI assistant. Provide clear, accurate answers based on " +
				"the context provided. Be concise but thorough.",
		},
		{
			Name:    UserTemplateName("ask_question"),
			Content: "{{context}}",
		},

		{
			Name:        SystemTemplateName("jd_analysis"),
			Description: "Job description analysis",
			Content: "You are a career strategist and job description analyst. Extract the role's core " +
				"responsibilities, required and preferred skills, seniority signals and any red flags. " +
				"Answer with clear headed sections.",
		},
		{
			Name:    UserTemplateName("jd_analysis"),
			Content: "Analyze the following job description:\n\n{{context}}",
		},

		{
			Name:        SystemTemplateName("cv_component_rephrasing"),
			Description: "Tailors one CV component to a target role",
			Content: "You are an expert CV writer. Rephrase the given CV component so it matches the target " +
				"role while staying truthful. Keep the original facts, quantify impact where the source " +
				"allows, and return only the rewritten component.",
		},
		{
			Name:    UserTemplateName("cv_component_rephrasing"),
			Content: "Target role:\n{{role}}\n\nCV component:\n{{context}}",
		},

		{
			Name:        SystemTemplateName("pattern_analysis"),
			Description: "Finds recurring themes across journal entries",
			Content: "You are a reflective analyst. Identify recurring themes, emotional patterns and " +
				"triggers across the entries provided. Cite the entries that support each pattern and " +
				"suggest one small, concrete experiment per pattern.",
		},
		{
			Name:    UserTemplateName("pattern_analysis"),
			Content: "Entries to analyze:\n\n{{context}}",
		},

		{
			Name:        SystemTemplateName("journal_reflection"),
			Description: "Reflects on a single journal entry",
			Content: "You are a thoughtful writing assistant helping to process and structure journal " +
				"entries. Help develop insights while maintaining the authentic voice of the writer.",
		},
		{
			Name:    UserTemplateName("journal_reflection"),
			Content: "Journal entry:\n\n{{context}}",
		},

		{
			Name:        SystemTemplateName("draft_communication"),
			Description: "Drafts a message",
			Content: "You are a professional communication expert. Draft clear, well-structured messages " +
				"that maintain appropriate tone and achieve communication objectives effectively.",
		},
		{
			Name:    UserTemplateName("draft_communication"),
			Content: "Tone: {{tone}}\nRecipient: {{recipient}}\n\nWhat the message needs to say:\n{{context}}",
		},

		{
			Name:        SystemTemplateName("opportunity_evaluation"),
			Description: "Evaluates a job opportunity against the profile",
			Content: "You are a career strategist and opportunity evaluator. Analyze opportunities " +
				"based on the profile and context provided. Focus on alignment with skills, " +
				"career goals, and growth potential.",
		},
		{
			Name:    UserTemplateName("opportunity_evaluation"),
			Content: "Opportunity to evaluate:\n\n{{context}}",
		},

		{
			Name:        SystemTemplateName("profile_summary_tailoring"),
			Description: "Rewrites the profile summary for a target role",
			Content: "You are a professional profile writer. Create compelling profile summaries that " +
				"highlight key strengths and career narrative aligned with the target opportunity.",
		},
		{
			Name:    UserTemplateName("profile_summary_tailoring"),
			Content: "Target role:\n{{role}}\n\nCurrent summary:\n{{context}}",
		},

		{
			Name:        SystemTemplateName("orion_improvement"),
			Description: "Suggests improvements to Orion itself",
			Content: "You are a systems improvement specialist. Analyze Orion's functionality and " +
				"suggest concrete, implementable improvements while maintaining system stability.",
		},
	}

	for _, tmpl := range templates {
		if err := e.RegisterTemplate(tmpl); err != nil {
			return fmt.Errorf("failed to register template %s: %w", tmpl.Name, err)
		}
	}

	return nil
}

// FormatMemories numbers retrieved memory texts as "Memory N: text".
func FormatMemories(texts []string) string {
	lines := make([]string, 0, len(texts))
	for i, t := range texts {
		lines = append(lines, fmt.Sprintf("Memory %d: %s", i+1, strings.TrimSpace(t)))
	}
	return strings.Join(lines, "\n")
}

// ParseTemplateVariables extracts variables from a template
func ParseTemplateVariables(templateContent string) []string {
	matches := varRegex.FindAllStringSubmatch(templateContent, -1)

	uniqueVars := make(map[string]bool)
	vars := make([]string, 0, len(matches))
	for _, match := range matches {
		if len(match) > 1 && !uniqueVars[match[1]] {
			uniqueVars[match[1]] = true
			vars = append(vars, match[1])
		}
	}

	return vars
}

// ExportTemplate exports a template as JSON
func (e *TemplateEngine) ExportTemplate(name string) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(tmpl, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal template: %w", err)
	}

	return string(data), nil
}

// ImportTemplate imports a template from JSON, replacing any template with
// the same name.
func (e *TemplateEngine) ImportTemplate(jsonData string) error {
	var tmpl Template
	if err := json.Unmarshal([]byte(jsonData), &tmpl); err != nil {
		return fmt.Errorf("failed to unmarshal template: %w", err)
	}

	// Extract variables from content
	tmpl.Variables = ParseTemplateVariables(tmpl.Content)

	return e.RegisterTemplate(&tmpl)
}

// LoadOverrides imports every *.json template in dir, in name order, and
// returns how many were loaded. Overrides replace built-in templates of the
// same name.
func (e *TemplateEngine) LoadOverrides(dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	for i, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return i, fmt.Errorf("failed to read template %s: %w", f, err)
		}
		if err := e.ImportTemplate(string(data)); err != nil {
			return i, fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
	}
	return len(files), nil
}
