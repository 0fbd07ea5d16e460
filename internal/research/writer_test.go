package research

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/researcher/provider"
)

func TestWriteReportStructuredCall(t *testing.T) {
	invoker := &stubInvoker{generateFn: scripted("# Report\n\nbody")}
	writer := NewWriter(testConfig(), invoker, nil)
	state := NewState("q", ReportParams{}, nil)

	report, err := writer.WriteReport(context.Background(), state, "some context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report != "# Report\n\nbody" {
		t.Fatalf("unexpected report: %q", report)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("expected a single call, got %d", invoker.callCount())
	}
	if state.Costs() <= 0 {
		t.Fatalf("drafting cost should be recorded, got %v", state.Costs())
	}
}

func TestWriteReportFlattensOnStructuredFailure(t *testing.T) {
	invoker := &stubInvoker{generateFn: func(model string, messages []provider.Message) (string, provider.Usage, error) {
		if len(messages) > 1 {
			return "", provider.Usage{}, errors.New("system role not supported")
		}
		return "flattened report", provider.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
	}}
	writer := NewWriter(testConfig(), invoker, nil)
	state := NewState("q", ReportParams{}, nil)

	report, err := writer.WriteReport(context.Background(), state, "some context")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report != "flattened report" {
		t.Fatalf("unexpected report: %q", report)
	}
	if invoker.callCount() != 2 {
		t.Fatalf("expected structured attempt plus fallback, got %d calls", invoker.callCount())
	}
	// the fallback folds system and user content into one message
	last := invoker.calls[1]
	if len(last) != 1 || last[0].Role != "user" {
		t.Fatalf("fallback should send one user message, got %+v", last)
	}
}

func TestWriteReportDegradesToEmptyWithSignal(t *testing.T) {
	invoker := &stubInvoker{generateFn: func(string, []provider.Message) (string, provider.Usage, error) {
		return "", provider.Usage{}, errors.New("model offline")
	}}
	writer := NewWriter(testConfig(), invoker, nil)
	state := NewState("q", ReportParams{}, nil)

	report, err := writer.WriteReport(context.Background(), state, "some context")
	if report != "" {
		t.Fatalf("failed drafting must yield empty text, got %q", report)
	}
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected a *GenerationError, got %v", err)
	}
	if genErr.Stage != "report" {
		t.Fatalf("unexpected stage: %q", genErr.Stage)
	}
	if invoker.callCount() != 2 {
		t.Fatalf("expected exactly two attempts, got %d", invoker.callCount())
	}
	if errorEvents(state) != 1 {
		t.Fatalf("expected one error event, got %d", errorEvents(state))
	}
}

func TestDraftSectionTitlesStripsMarkers(t *testing.T) {
	invoker := &stubInvoker{generateFn: scripted("# Grid Outlook\n## Background\n- Costs\n\n* Policy")}
	writer := NewWriter(testConfig(), invoker, nil)
	state := NewState("q", ReportParams{}, nil)

	titles, err := writer.DraftSectionTitles(context.Background(), state, "ctx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"Grid Outlook", "Background", "Costs", "Policy"}
	if len(titles) != len(want) {
		t.Fatalf("expected %d titles, got %v", len(want), titles)
	}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("title %d: expected %q, got %q", i, want[i], titles[i])
		}
	}
}

func TestAddReferences(t *testing.T) {
	sources := []Source{
		{URL: "https://a.example/cited"},
		{URL: "https://b.example/uncited"},
	}
	report := "Body citing https://a.example/cited inline."

	got := AddReferences(report, sources)
	if !strings.Contains(got, "## References") {
		t.Fatalf("expected a references section, got %q", got)
	}
	if !strings.Contains(got, "- https://b.example/uncited") {
		t.Fatalf("uncited source missing from references: %q", got)
	}
	if strings.Contains(got, "- https://a.example/cited") {
		t.Fatalf("already-cited source should not be listed: %q", got)
	}

	allCited := AddReferences("see https://a.example/cited", []Source{{URL: "https://a.example/cited"}})
	if strings.Contains(allCited, "## References") {
		t.Fatalf("no references section expected when everything is cited: %q", allCited)
	}
}
