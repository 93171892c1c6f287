package notification

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"
)

const (
	TemplateQuizResult     = "quiz-result"
	TemplateInsightProfile = "insight-profile"
)

// Template is a named subject/body pair in text/template syntax.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type compiled struct {
	meta    Template
	subject *template.Template
	body    *template.Template
}

// TemplateEngine holds the registered templates.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*compiled
}

// QuizResult is the data of the quiz-result template.
type QuizResult struct {
	LearnerName    string
	QuizTitle      string
	Score          int
	PassThreshold  int
	Passed         bool
	CorrectAnswers int
	TotalQuestions int
	ReportURL      string
}

// InsightResult is the data of the insight-profile template.
type InsightResult struct {
	LearnerName   string
	QuizTitle     string
	DominantColor string
	ReportURL     string
}

var builtInTemplates = []Template{
	{
		ID:      TemplateQuizResult,
		Name:    "Quiz Result",
		Subject: `{{if .Passed}}You passed{{else}}Your result for{{end}} {{.QuizTitle}}`,
		Body: `Hello {{with .LearnerName}}{{.}}{{else}}there{{end}},

You scored {{.Score}}% on {{.QuizTitle}} ({{.CorrectAnswers}} of {{.TotalQuestions}} correct).
{{if .Passed}}That clears the {{.PassThreshold}}% pass mark. Well done.{{else}}The pass mark is {{.PassThreshold}}%. Your report lists the areas to revisit before your next attempt.{{end}}
{{with .ReportURL}}
Full report: {{.}}
{{end}}`,
	},
	{
		ID:      TemplateInsightProfile,
		Name:    "Insight Profile Ready",
		Subject: `Your {{.QuizTitle}} profile is ready`,
		Body: `Hello {{with .LearnerName}}{{.}}{{else}}there{{end}},

Your colour energy profile for {{.QuizTitle}} is ready.{{with .DominantColor}} Your dominant energy is {{.}}.{{end}}
{{with .ReportURL}}
Full profile: {{.}}
{{end}}`,
	},
}

// NewTemplateEngine returns an engine with the built-in templates registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*compiled)}
	for _, t := range builtInTemplates {
		if err := e.Register(t); err != nil {
			panic(fmt.Sprintf("built-in template %s: %v", t.ID, err))
		}
	}
	return e
}

// Register parses t and adds or replaces it.
func (e *TemplateEngine) Register(t Template) error {
	subject, err := template.New(t.ID + ".subject").Option("missingkey=error").Parse(t.Subject)
	if err != nil {
		return fmt.Errorf("parse subject: %w", err)
	}
	body, err := template.New(t.ID + ".body").Option("missingkey=error").Parse(t.Body)
	if err != nil {
		return fmt.Errorf("parse body: %w", err)
	}

	e.mu.Lock()
	e.templates[t.ID] = &compiled{meta: t, subject: subject, body: body}
	e.mu.Unlock()
	return nil
}

// Render executes the template with data.
func (e *TemplateEngine) Render(id string, data interface{}) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}

	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return sb.String(), bb.String(), nil
}

// List returns the registered templates.
func (e *TemplateEngine) List() []Template {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Template, 0, len(e.templates))
	for _, t := range builtInTemplates {
		if c, ok := e.templates[t.ID]; ok {
			out = append(out, c.meta)
		}
	}
	for id, c := range e.templates {
		if !isBuiltIn(id) {
			out = append(out, c.meta)
		}
	}
	return out
}

func isBuiltIn(id string) bool {
	for _, t := range builtInTemplates {
		if t.ID == id {
			return true
		}
	}
	return false
}
