package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Compliance {{.EventLabel}}]
Plant: {{.PlantID}}
Level: {{.Level}}
Peak Level: {{.PeakLevel}}
Observed Rate: {{.ObservedRate}} kg CO2/hr
Threshold: {{.Threshold}} kg CO2/hr
Opened: {{.OpenedAt}}
{{ if .ClosedAt }}Closed: {{.ClosedAt}}
Duration: {{.Duration}}
{{ end }}Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	PlantID      string
	Level        string
	PeakLevel    string
	ObservedRate string
	Threshold    string
	OpenedAt     string
	ClosedAt     string
	Duration     string
	Suggestion   string
	Event        string
	EventLabel   string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("violation-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("violation template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
