package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/jobstream/internal/events"
	"github.com/phrazzld/jobstream/internal/job"
	"github.com/phrazzld/jobstream/internal/platform/memory"
	"github.com/phrazzld/jobstream/internal/resilience"
	"github.com/phrazzld/jobstream/internal/task"
)

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	answer  func(prompt string) (string, error)
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.answer(prompt)
}

type report struct {
	percentage int
	stage      string
}

type recordingReporter struct {
	reports []report
}

func (r *recordingReporter) Report(_ context.Context, percentage int, stage string) {
	r.reports = append(r.reports, report{percentage, stage})
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJob(t *testing.T, kind job.Kind, input string) *job.Job {
	t.Helper()
	j, err := job.New("J1", kind, json.RawMessage(input))
	require.NoError(t, err)
	return j
}

func TestDocumentHandler(t *testing.T) {
	gen := &fakeGenerator{answer: func(string) (string, error) {
		return `{"title":"Quarterly report","body":"All good."}`, nil
	}}
	progress := &recordingReporter{}
	h := NewDocumentHandler(gen, testLogger())

	out, err := h.Run(context.Background(),
		newJob(t, job.KindDocumentSynthesis, `{"title":"Q3","template_ids":["a","b"],"instructions":"be brief"}`),
		progress)
	require.NoError(t, err)

	var result DocumentResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Quarterly report", result.Title)
	assert.Equal(t, "All good.", result.Body)
	assert.Equal(t, []string{"a", "b"}, result.TemplateIDs)

	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "a, b")
	assert.Contains(t, gen.prompts[0], "be brief")
	assert.Equal(t, []report{{10, "preparing prompt"}, {30, "generating"}, {90, "assembling"}}, progress.reports)
}

func TestDocumentHandler_Failures(t *testing.T) {
	apiDown := resilience.Transient(errors.New("503 unavailable"))

	tests := []struct {
		name      string
		input     string
		answer    string
		genErr    error
		wantErr   error
		transient bool
	}{
		{name: "missing templates", input: `{"title":"Q3"}`, wantErr: ErrInvalidInput},
		{name: "input not an object", input: `[1,2]`, wantErr: ErrInvalidInput},
		{name: "answer not json", input: `{"title":"Q3","template_ids":["a"]}`, answer: "sure!", wantErr: ErrInvalidResponse},
		{name: "transient api failure", input: `{"title":"Q3","template_ids":["a"]}`, genErr: apiDown, wantErr: apiDown, transient: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{answer: func(string) (string, error) { return tc.answer, tc.genErr }}
			h := NewDocumentHandler(gen, testLogger())

			_, err := h.Run(context.Background(), newJob(t, job.KindDocumentSynthesis, tc.input), &recordingReporter{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.transient, resilience.IsTransient(err))
		})
	}
}

func TestAnalyticsHandler(t *testing.T) {
	gen := &fakeGenerator{answer: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "findings of the analytics team"):
			return `{"answer":"Revenue grew 12%."}`, nil
		case strings.Contains(prompt, "sql agent"):
			return `{"summary":"rows counted"}`, nil
		default:
			return `{"summary":"trend is up"}`, nil
		}
	}}
	progress := &recordingReporter{}
	h := NewAnalyticsHandler(gen, testLogger())

	out, err := h.Run(context.Background(),
		newJob(t, job.KindAnalyticsQuery, `{"question":"How did revenue change?","agents":["sql","trend"]}`),
		progress)
	require.NoError(t, err)

	var result AnalyticsResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Equal(t, "Revenue grew 12%.", result.Answer)
	assert.Equal(t, []Finding{
		{Agent: "sql", Summary: "rows counted"},
		{Agent: "trend", Summary: "trend is up"},
	}, result.Findings)

	require.Len(t, gen.prompts, 3)
	assert.Contains(t, gen.prompts[2], "[sql] rows counted")
	assert.Equal(t, []report{{10, "agent:sql"}, {50, "agent:trend"}, {90, "synthesizing"}}, progress.reports)
}

func TestAnalyticsHandler_DefaultAgents(t *testing.T) {
	gen := &fakeGenerator{answer: func(string) (string, error) { return `{"summary":"x","answer":"y"}`, nil }}
	h := NewAnalyticsHandler(gen, testLogger())

	out, err := h.Run(context.Background(), newJob(t, job.KindAnalyticsQuery, `{"question":"why?"}`), &recordingReporter{})
	require.NoError(t, err)

	var result AnalyticsResult
	require.NoError(t, json.Unmarshal(out, &result))
	assert.Len(t, result.Findings, len(defaultAgents))
	assert.Len(t, gen.prompts, len(defaultAgents)+1)
}

func TestAnalyticsHandler_RequiresQuestion(t *testing.T) {
	gen := &fakeGenerator{answer: func(string) (string, error) { return "", nil }}
	h := NewAnalyticsHandler(gen, testLogger())

	_, err := h.Run(context.Background(), newJob(t, job.KindAnalyticsQuery, `{"question":"  "}`), &recordingReporter{})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.False(t, resilience.IsTransient(err))
	assert.Empty(t, gen.prompts)
}

func TestRegister(t *testing.T) {
	registry := task.NewRegistry()
	require.NoError(t, Register(registry, &fakeGenerator{}, testLogger()))
	assert.Equal(t, []job.Kind{job.KindAnalyticsQuery, job.KindDocumentSynthesis}, registry.Kinds())

	binding, ok := registry.Lookup(job.KindDocumentSynthesis)
	require.True(t, ok)
	assert.Equal(t, Dependency, binding.Dependency)
	assert.True(t, binding.PerCall)

	assert.Error(t, Register(registry, &fakeGenerator{}, testLogger()), "second registration must fail")
}

func TestGuarded_RunsOnceOutsideJob(t *testing.T) {
	calls := 0
	gen := Guarded(GeneratorFunc(func(context.Context, string) (string, error) {
		calls++
		return "", resilience.Transient(errors.New("503"))
	}))

	_, err := gen.Generate(context.Background(), "hello")
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, 1, calls)
}

func TestAnalyticsJob_RetriesOnlyFailedPrompt(t *testing.T) {
	tests := []struct {
		name            string
		failSynthesis   int
		wantType        events.Type
		wantPrompts     int
		wantSynthesized int
	}{
		{"synthesis recovers", 2, events.TypeCompleted, 3 + 3, 3},
		{"synthesis exhausts", 10, events.TypeFailed, 3 + 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := testLogger()
			var synthesized atomic.Int32
			gen := &fakeGenerator{answer: func(prompt string) (string, error) {
				if strings.HasPrefix(prompt, "Answer the question") {
					if int(synthesized.Add(1)) <= tt.failSynthesis {
						return "", resilience.Transient(errors.New("gemini 503"))
					}
					return `{"answer":"steady"}`, nil
				}
				return `{"summary":"ok"}`, nil
			}}

			registry := task.NewRegistry()
			require.NoError(t, Register(registry, gen, logger))

			jobStore := memory.NewJobStore(logger)
			bus := events.NewMemoryBus(logger)
			t.Cleanup(func() { _ = bus.Close() })
			envelope := resilience.NewEnvelope(
				resilience.Policy{MaxRetries: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond},
				resilience.NewRegistry(20, time.Minute), logger)
			executor := task.NewExecutor(jobStore, bus, envelope, registry,
				task.ExecutorConfig{SoftTimeout: 2 * time.Second, HardTimeout: 5 * time.Second}, logger)
			runner := task.NewRunner(jobStore, executor, task.RunnerConfig{WorkerCount: 1, QueueSize: 4}, logger)
			require.NoError(t, runner.Start(context.Background()))
			t.Cleanup(runner.Stop)

			sub, err := bus.Subscribe(context.Background(), events.JobChannel("A1"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = sub.Close() })

			_, err = runner.Enqueue(context.Background(), task.EnqueueRequest{
				JobID: "A1",
				Kind:  job.KindAnalyticsQuery,
				Input: json.RawMessage(`{"question":"is churn rising?"}`),
			})
			require.NoError(t, err)

			var last *events.Event
			timeout := time.After(3 * time.Second)
			for last == nil || !last.Type.IsTerminal() {
				select {
				case e, ok := <-sub.C():
					require.True(t, ok, "subscription closed")
					last = e
				case <-timeout:
					t.Fatal("timed out waiting for terminal event")
				}
			}

			assert.Equal(t, tt.wantType, last.Type)
			gen.mu.Lock()
			defer gen.mu.Unlock()
			assert.Len(t, gen.prompts, tt.wantPrompts)
			assert.Equal(t, int32(tt.wantSynthesized), synthesized.Load())
		})
	}
}
