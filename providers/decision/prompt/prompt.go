package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"github.com/tiger/intersection-signal-sim/internal/policy/delegating"
)

// System is the role message sent ahead of the rendered prompt.
const System = "You are an intelligent traffic management system optimizer."

// DefaultTemplate asks for one configuration and a bounded duration as JSON.
const DefaultTemplate = `You control the traffic signals of a single intersection.
Select the signal configuration for the next interval.

## Waiting traffic per configuration
Vehicles at the stop line and pedestrians each configuration would release:
{{json .Demand}}

## Available configurations
{{json .Configurations}}

## Previous decisions (most recent first)
{{json .Memory}}

## Current conditions
Tick {{.Tick}} at {{.Now}}; current configuration: {{if .CurrentConfiguration}}{{.CurrentConfiguration}}{{else}}none{{end}}.
{{- if .Weather}}
Weather: {{.Weather}}.
{{- end}}
{{- if .Context}}
Peak period: {{.Context.PeakPeriod}}. Incident reported: {{.Context.IncidentReported}}.
{{- end}}

## Guidance
- Prefer configurations that release the most vehicles and pedestrians.
- No direction should wait more than {{.MaxWait}} intervals.
- Give pedestrian crossings priority when their counts are significant.
- When all demand is zero or equal, pick the configuration used least recently.
- Choose a duration between {{.MinDurationSeconds}} and {{.MaxDurationSeconds}} seconds;
  short (30-60) for light traffic, longer in proportion to demand.

Reply with a JSON object only:
{"selected_configuration": "<name>", "duration_seconds": <int>, "justification": "<why>"}
`

// Renderer renders a decision request into prompt text.
type Renderer struct {
	tmpl *template.Template
}

// New parses text as the prompt template. Empty text selects DefaultTemplate.
func New(text string) (Renderer, error) {
	if text == "" {
		text = DefaultTemplate
	}
	tmpl, err := template.New("decision").Funcs(template.FuncMap{"json": toJSON}).Parse(text)
	if err != nil {
		return Renderer{}, fmt.Errorf("parse prompt template: %w", err)
	}
	return Renderer{tmpl: tmpl}, nil
}

// Default returns the renderer for DefaultTemplate.
func Default() Renderer {
	r, err := New(DefaultTemplate)
	if err != nil {
		panic(err)
	}
	return r
}

// Render executes the template against req.
func (r Renderer) Render(req delegating.Request) (string, error) {
	if r.tmpl == nil {
		r = Default()
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

func toJSON(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
