package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/resilience"
	"github.com/phrazzld/jobstream/internal/task"
)

// defaultAgents run when an analytics job names none.
var defaultAgents = []string{"retrieval", "statistics", "narrative"}

var (
	documentPrompt = template.Must(template.New("document").Funcs(template.FuncMap{"join": strings.Join}).Parse(
		`Write a document titled "{{.Title}}" composed from the templates {{join .TemplateIDs ", "}}.
{{- if .Instructions}}
Instructions: {{.Instructions}}
{{- end}}
{{- range $k, $v := .Variables}}
{{$k}} = {{$v}}
{{- end}}
Respond with a JSON object {"title": string, "body": string}.`))

	agentPrompt = template.Must(template.New("agent").Parse(
		`You are the {{.Agent}} agent of an analytics team.
Question: {{.Question}}
{{- if .Dataset}}
Dataset: {{.Dataset}}
{{- end}}
Respond with a JSON object {"summary": string} holding your findings.`))

	synthesisPrompt = template.Must(template.New("synthesis").Parse(
		`Answer the question using the findings of the analytics team.
Question: {{.Question}}
{{- range .Findings}}
[{{.Agent}}] {{.Summary}}
{{- end}}
Respond with a JSON object {"answer": string}.`))
)

// Register binds the Gemini-backed handlers of every known kind. Each
// prompt goes through the resilience envelope on its own, so a retry never
// repeats calls that already succeeded.
func Register(registry *task.Registry, gen Generator, logger *slog.Logger) error {
	gen = Guarded(gen)
	if err := registry.RegisterPerCall(job.KindDocumentSynthesis, Dependency, NewDocumentHandler(gen, logger)); err != nil {
		return err
	}
	return registry.RegisterPerCall(job.KindAnalyticsQuery, Dependency, NewAnalyticsHandler(gen, logger))
}

// Guarded wraps gen so that every Generate runs as one task.Call.
func Guarded(gen Generator) Generator {
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		var text string
		err := task.Call(ctx, func(ctx context.Context) error {
			var err error
			text, err = gen.Generate(ctx, prompt)
			return err
		})
		return text, err
	})
}

// NewDocumentHandler returns the document_synthesis handler. The result
// carries the template ids so completion events can name them.
func NewDocumentHandler(gen Generator, logger *slog.Logger) task.Handler {
	logger = logger.With("component", "gemini_document")
	return task.HandlerFunc(func(ctx context.Context, j *job.Job, progress task.ProgressReporter) (json.RawMessage, error) {
		var in DocumentInput
		if err := decodeInput(j.Input, &in); err != nil {
			return nil, err
		}
		if in.Title == "" || len(in.TemplateIDs) == 0 {
			return nil, resilience.Permanent(fmt.Errorf("%w: title and template_ids are required", ErrInvalidInput))
		}

		progress.Report(ctx, 10, "preparing prompt")
		prompt, err := render(documentPrompt, in)
		if err != nil {
			return nil, err
		}

		progress.Report(ctx, 30, "generating")
		text, err := gen.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}

		var doc documentSchema
		if err := decodeAnswer(text, &doc); err != nil {
			return nil, err
		}
		if doc.Title == "" {
			doc.Title = in.Title
		}

		progress.Report(ctx, 90, "assembling")
		logger.DebugContext(ctx, "document generated", "job_id", j.ID, "body_length", len(doc.Body))
		return json.Marshal(DocumentResult{
			Title:       doc.Title,
			Body:        doc.Body,
			TemplateIDs: in.TemplateIDs,
		})
	})
}

// NewAnalyticsHandler returns the analytics_query handler. Each agent is
// asked in turn, then a final call synthesizes their findings.
func NewAnalyticsHandler(gen Generator, logger *slog.Logger) task.Handler {
	logger = logger.With("component", "gemini_analytics")
	return task.HandlerFunc(func(ctx context.Context, j *job.Job, progress task.ProgressReporter) (json.RawMessage, error) {
		var in AnalyticsInput
		if err := decodeInput(j.Input, &in); err != nil {
			return nil, err
		}
		if strings.TrimSpace(in.Question) == "" {
			return nil, resilience.Permanent(fmt.Errorf("%w: question is required", ErrInvalidInput))
		}
		agents := in.Agents
		if len(agents) == 0 {
			agents = defaultAgents
		}

		findings := make([]Finding, 0, len(agents))
		for i, agent := range agents {
			progress.Report(ctx, 10+80*i/len(agents), "agent:"+agent)

			prompt, err := render(agentPrompt, struct {
				Agent    string
				Question string
				Dataset  string
			}{agent, in.Question, in.Dataset})
			if err != nil {
				return nil, err
			}
			text, err := gen.Generate(ctx, prompt)
			if err != nil {
				return nil, err
			}
			var f findingSchema
			if err := decodeAnswer(text, &f); err != nil {
				return nil, err
			}
			findings = append(findings, Finding{Agent: agent, Summary: f.Summary})
		}

		progress.Report(ctx, 90, "synthesizing")
		prompt, err := render(synthesisPrompt, struct {
			Question string
			Findings []Finding
		}{in.Question, findings})
		if err != nil {
			return nil, err
		}
		text, err := gen.Generate(ctx, prompt)
		if err != nil {
			return nil, err
		}
		var ans answerSchema
		if err := decodeAnswer(text, &ans); err != nil {
			return nil, err
		}

		logger.DebugContext(ctx, "analytics query answered", "job_id", j.ID, "agent_count", len(agents))
		return json.Marshal(AnalyticsResult{
			Question: in.Question,
			Answer:   ans.Answer,
			Findings: findings,
		})
	})
}

func decodeInput(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return resilience.Permanent(fmt.Errorf("%w: input is empty", ErrInvalidInput))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return resilience.Permanent(fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	return nil
}

func decodeAnswer(text string, v any) error {
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return resilience.Permanent(fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	return nil
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", resilience.Permanent(fmt.Errorf("failed to execute %s prompt template: %w", tmpl.Name(), err))
	}
	return buf.String(), nil
}
