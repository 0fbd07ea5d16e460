package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/research"
)

type stubRunner struct {
	result  research.ReportResult
	err     error
	block   chan struct{}
	started chan struct{}
}

func (s *stubRunner) Run(ctx context.Context, query string, params research.ReportParams, sink research.EventSink) (research.ReportResult, error) {
	if s.started != nil {
		close(s.started)
	}
	if s.block != nil {
		<-s.block
	}
	if sink != nil {
		sink.Publish(research.Event{Message: "Report completed", Done: true})
	}
	res := s.result
	res.Query = query
	return res, s.err
}

func submitRun(t *testing.T, h *RunsHandler, body string) (string, int) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.submit(c); err != nil {
		he, ok := err.(*echo.HTTPError)
		if !ok {
			t.Fatalf("submit: %v", err)
		}
		return "", he.Code
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp["run_id"], rec.Code
}

func waitForStatus(t *testing.T, h *RunsHandler, id, want string) runStatusResponse {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/research/"+id, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(id)
		if err := h.get(c); err != nil {
			t.Fatalf("get: %v", err)
		}
		var resp runStatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding status: %v", err)
		}
		if resp.Status == want {
			return resp
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", id, want)
	return runStatusResponse{}
}

func TestSubmitRejectsEmptyQuery(t *testing.T) {
	h := NewRunsHandler(&stubRunner{}, nil, nil, nil)
	if _, code := submitRun(t, h, `{"query":""}`); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
}

func TestSubmitAndFetchReport(t *testing.T) {
	runner := &stubRunner{result: research.ReportResult{
		Report: "# Done",
		Costs:  0.12,
	}}
	h := NewRunsHandler(runner, nil, nil, nil)

	id, code := submitRun(t, h, `{"query":"grid outlook"}`)
	if code != http.StatusAccepted || id == "" {
		t.Fatalf("expected 202 with run id, got %d %q", code, id)
	}

	status := waitForStatus(t, h, id, "completed")
	if len(status.Events) == 0 || !status.Events[len(status.Events)-1].Done {
		t.Fatalf("expected forwarded events ending in completion, got %+v", status.Events)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/research/"+id+"/report", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	if err := h.report(c); err != nil {
		t.Fatalf("report: %v", err)
	}
	var resp runReportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if resp.Report != "# Done" || resp.Query != "grid outlook" {
		t.Fatalf("unexpected report payload: %+v", resp)
	}
}

func TestReportWhileRunningConflicts(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{}), started: make(chan struct{})}
	h := NewRunsHandler(runner, nil, nil, nil)
	defer close(runner.block)

	id, _ := submitRun(t, h, `{"query":"slow run"}`)
	<-runner.started

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/research/"+id+"/report", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(id)

	err := h.report(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Fatalf("expected 409 while running, got %v", err)
	}
}

func TestFailedRunSurfacesError(t *testing.T) {
	runner := &stubRunner{err: errors.New("planner offline")}
	h := NewRunsHandler(runner, nil, nil, nil)

	id, _ := submitRun(t, h, `{"query":"doomed"}`)
	status := waitForStatus(t, h, id, "failed")
	if status.Error == "" {
		t.Fatal("failed run must carry its error")
	}
}

func TestGetUnknownRun(t *testing.T) {
	h := NewRunsHandler(&stubRunner{}, nil, nil, nil)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/research/ghost", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	err := h.get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHealthAndErrorHandler(t *testing.T) {
	e := newEcho()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from error handler, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error responses must be JSON: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("error body missing message")
	}
}
