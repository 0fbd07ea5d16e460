package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/researcher/internal/research"
	"github.com/mohammad-safakhou/researcher/internal/store"
)

// Runner is the piece of the pipeline the API needs; research.Researcher
// satisfies it.
type Runner interface {
	Run(ctx context.Context, query string, params research.ReportParams, sink research.EventSink) (research.ReportResult, error)
}

// RunsHandler exposes research runs over HTTP. Every run is tracked in
// memory for its lifetime; Postgres and Redis, when configured, add durable
// reports and shared status.
type RunsHandler struct {
	runner  Runner
	reports *store.Store
	status  *store.StatusCache
	logger  *log.Logger

	mu   sync.RWMutex
	runs map[string]*runEntry
}

type runEntry struct {
	mu        sync.RWMutex
	ID        string
	Query     string
	Status    string
	Error     string
	Events    []research.Event
	Result    *research.ReportResult
	CreatedAt time.Time
}

type runRequest struct {
	Query             string   `json:"query"`
	Type              string   `json:"type,omitempty"`
	Tone              string   `json:"tone,omitempty"`
	Format            string   `json:"format,omitempty"`
	RolePrompt        string   `json:"role_prompt,omitempty"`
	Guidelines        []string `json:"guidelines,omitempty"`
	EnforceGuidelines bool     `json:"enforce_guidelines,omitempty"`
	TotalWords        int      `json:"total_words,omitempty"`
	SourceURLs        []string `json:"source_urls,omitempty"`
}

type runStatusResponse struct {
	RunID     string           `json:"run_id"`
	Query     string           `json:"query"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Events    []research.Event `json:"events"`
	CreatedAt time.Time        `json:"created_at"`
}

type runReportResponse struct {
	RunID        string            `json:"run_id"`
	Query        string            `json:"query"`
	Report       string            `json:"report"`
	Sources      []research.Source `json:"sources"`
	Images       []string          `json:"images"`
	Costs        float64           `json:"costs"`
	ReviewRounds int               `json:"review_rounds"`
}

func NewRunsHandler(runner Runner, reports *store.Store, status *store.StatusCache, logger *log.Logger) *RunsHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &RunsHandler{
		runner:  runner,
		reports: reports,
		status:  status,
		logger:  logger,
		runs:    make(map[string]*runEntry),
	}
}

func (h *RunsHandler) Register(g *echo.Group) {
	g.POST("/research", h.submit)
	g.GET("/research", h.list)
	g.GET("/research/:id", h.get)
	g.GET("/research/:id/report", h.report)
}

// submit accepts a research request and starts the run in the background.
// Responds 202 with the run id immediately.
func (h *RunsHandler) submit(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	params := research.ReportParams{
		Type:              research.ReportType(req.Type),
		Tone:              req.Tone,
		Format:            req.Format,
		RolePrompt:        req.RolePrompt,
		Guidelines:        req.Guidelines,
		EnforceGuidelines: req.EnforceGuidelines,
		TotalWords:        req.TotalWords,
		SourceURLs:        req.SourceURLs,
	}
	if params.Type == "" {
		params.Type = research.ResearchReport
	}

	entry := &runEntry{
		ID:        uuid.New().String(),
		Query:     req.Query,
		Status:    store.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	h.mu.Lock()
	h.runs[entry.ID] = entry
	h.mu.Unlock()
	h.setCachedStatus(entry, "")

	go h.execute(entry, params)

	return c.JSON(http.StatusAccepted, map[string]string{"run_id": entry.ID})
}

// execute drives one run to completion and records the outcome. Events go
// through a BufferedSink so a contended entry lock never stalls the
// pipeline; Close flushes the buffer before the status flips.
func (h *RunsHandler) execute(entry *runEntry, params research.ReportParams) {
	sink := research.NewBufferedSink(research.SinkFunc(func(ev research.Event) {
		entry.mu.Lock()
		entry.Events = append(entry.Events, ev)
		entry.mu.Unlock()
	}), 256)

	result, err := h.runner.Run(context.Background(), entry.Query, params, sink)
	sink.Close()

	entry.mu.Lock()
	entry.Result = &result
	if err != nil {
		entry.Status = store.RunStatusFailed
		entry.Error = err.Error()
	} else {
		entry.Status = store.RunStatusCompleted
	}
	errMsg := entry.Error
	entry.mu.Unlock()
	h.setCachedStatus(entry, errMsg)

	if err != nil {
		h.logger.Printf("run %s failed: %v", entry.ID, err)
		return
	}
	h.persist(entry, result)
}

func (h *RunsHandler) persist(entry *runEntry, result research.ReportResult) {
	if h.reports == nil {
		return
	}
	rec := store.ReportRecord{
		ID:           entry.ID,
		Query:        result.Query,
		Report:       result.Report,
		Sources:      store.MarshalJSONField(result.Sources),
		Images:       store.MarshalJSONField(result.Images),
		Costs:        result.Costs,
		ReviewRounds: result.ReviewRounds,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.reports.SaveReport(ctx, rec); err != nil {
		h.logger.Printf("persisting run %s: %v", entry.ID, err)
	}
}

func (h *RunsHandler) setCachedStatus(entry *runEntry, errMsg string) {
	if h.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	entry.mu.RLock()
	s := store.RunStatus{RunID: entry.ID, Query: entry.Query, Status: entry.Status, Error: errMsg}
	entry.mu.RUnlock()
	if err := h.status.SetStatus(ctx, s); err != nil {
		h.logger.Printf("caching status for %s: %v", entry.ID, err)
	}
}

func (h *RunsHandler) get(c echo.Context) error {
	entry, ok := h.lookup(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	events := make([]research.Event, len(entry.Events))
	copy(events, entry.Events)
	return c.JSON(http.StatusOK, runStatusResponse{
		RunID:     entry.ID,
		Query:     entry.Query,
		Status:    entry.Status,
		Error:     entry.Error,
		Events:    events,
		CreatedAt: entry.CreatedAt,
	})
}

func (h *RunsHandler) report(c echo.Context) error {
	id := c.Param("id")
	entry, ok := h.lookup(id)
	if !ok {
		return h.storedReport(c, id)
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	switch entry.Status {
	case store.RunStatusFailed:
		return echo.NewHTTPError(http.StatusConflict, "run failed: "+entry.Error)
	case store.RunStatusCompleted:
		res := entry.Result
		return c.JSON(http.StatusOK, runReportResponse{
			RunID:        entry.ID,
			Query:        res.Query,
			Report:       res.Report,
			Sources:      res.Sources,
			Images:       res.Images,
			Costs:        res.Costs,
			ReviewRounds: res.ReviewRounds,
		})
	default:
		return echo.NewHTTPError(http.StatusConflict, "run still in progress")
	}
}

// storedReport serves finished runs that fell out of memory
func (h *RunsHandler) storedReport(c echo.Context, id string) error {
	if h.reports == nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	rec, err := h.reports.GetReport(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown run")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"run_id":        rec.ID,
		"query":         rec.Query,
		"report":        rec.Report,
		"costs":         rec.Costs,
		"review_rounds": rec.ReviewRounds,
		"created_at":    rec.CreatedAt,
	})
}

func (h *RunsHandler) list(c echo.Context) error {
	h.mu.RLock()
	entries := make([]*runEntry, 0, len(h.runs))
	for _, e := range h.runs {
		entries = append(entries, e)
	}
	h.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })

	out := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, map[string]interface{}{
			"run_id":     e.ID,
			"query":      e.Query,
			"status":     e.Status,
			"created_at": e.CreatedAt,
		})
		e.mu.RUnlock()
	}
	return c.JSON(http.StatusOK, out)
}

func (h *RunsHandler) lookup(id string) (*runEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.runs[id]
	return entry, ok
}
