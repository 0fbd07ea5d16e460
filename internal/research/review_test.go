package research

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mohammad-safakhou/researcher/provider"
)

func guidedParams() ReportParams {
	return ReportParams{
		Type:              ResearchReport,
		Guidelines:        []string{"Cite every claim", "Neutral tone"},
		EnforceGuidelines: true,
	}
}

func newTestReviewer(invoker *stubInvoker) *Reviewer {
	cfg := testConfig()
	writer := NewWriter(cfg, invoker, nil)
	return NewReviewer(cfg, invoker, writer, nil)
}

func TestRunAcceptsAfterOneRevision(t *testing.T) {
	// review -> feedback, revise -> new draft, review -> accepted
	invoker := &stubInvoker{generateFn: scripted(
		"Tighten the introduction and cite the cost figures.",
		"revised draft",
		"None",
	)}
	reviewer := newTestReviewer(invoker)
	state := NewState("q", guidedParams(), nil)

	final, rounds, err := reviewer.Run(context.Background(), state, "first draft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rounds != 2 {
		t.Fatalf("expected 2 review evaluations, got %d", rounds)
	}
	if state.Revisions() != 1 {
		t.Fatalf("expected 1 revision, got %d", state.Revisions())
	}
	if final != "revised draft" {
		t.Fatalf("expected the revised draft, got %q", final)
	}
	if state.Draft() != "revised draft" {
		t.Fatalf("state draft not updated: %q", state.Draft())
	}
}

func TestRunAcceptsImmediately(t *testing.T) {
	invoker := &stubInvoker{generateFn: scripted("None")}
	reviewer := newTestReviewer(invoker)
	state := NewState("q", guidedParams(), nil)

	final, rounds, err := reviewer.Run(context.Background(), state, "draft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rounds != 1 || final != "draft" || state.Revisions() != 0 {
		t.Fatalf("expected immediate acceptance: rounds=%d final=%q revisions=%d", rounds, final, state.Revisions())
	}
}

func TestRunSkipsWhenGuidelinesNotEnforced(t *testing.T) {
	invoker := &stubInvoker{generateFn: scripted("should never be called")}
	reviewer := newTestReviewer(invoker)
	state := NewState("q", ReportParams{Type: ResearchReport}, nil)

	final, rounds, err := reviewer.Run(context.Background(), state, "draft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rounds != 0 || final != "draft" {
		t.Fatalf("loop must be skipped without guidelines: rounds=%d final=%q", rounds, final)
	}
	if invoker.callCount() != 0 {
		t.Fatalf("no model calls expected, got %d", invoker.callCount())
	}
}

func TestRunForceAcceptsAtMaxRounds(t *testing.T) {
	// reviewer never satisfied, revisions keep coming
	invoker := &stubInvoker{generateFn: scripted(
		"feedback 1", "revision 1",
		"feedback 2", "revision 2",
		"feedback 3", "revision 3",
	)}
	reviewer := newTestReviewer(invoker)
	state := NewState("q", guidedParams(), nil)

	final, rounds, err := reviewer.Run(context.Background(), state, "first draft")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rounds != 3 {
		t.Fatalf("loop must stop at max_review_rounds, got %d", rounds)
	}
	if final != "revision 3" {
		t.Fatalf("expected the last revision, got %q", final)
	}
}

func TestRunKeepsPreviousDraftWhenRevisionFails(t *testing.T) {
	var mu sync.Mutex
	call := 0
	invoker := &stubInvoker{generateFn: func(string, []provider.Message) (string, provider.Usage, error) {
		mu.Lock()
		defer mu.Unlock()
		call++
		if call == 1 {
			return "needs work", provider.Usage{PromptTokens: 10, CompletionTokens: 5}, nil
		}
		// both the structured and the flattened revision attempt fail
		return "", provider.Usage{}, errors.New("model offline")
	}}
	reviewer := newTestReviewer(invoker)
	state := NewState("q", guidedParams(), nil)

	final, rounds, err := reviewer.Run(context.Background(), state, "first draft")
	if err != nil {
		t.Fatalf("revision failure must not fail the run: %v", err)
	}
	if final != "first draft" {
		t.Fatalf("previous draft must survive a failed revision, got %q", final)
	}
	if rounds != 1 {
		t.Fatalf("expected 1 review round, got %d", rounds)
	}
	if errorEvents(state) == 0 {
		t.Fatal("expected an error event for the failed revision")
	}
}
