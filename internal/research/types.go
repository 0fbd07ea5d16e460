package research

// ReportType selects the prompt template used for drafting
type ReportType string

const (
	// ResearchReport is a standalone top-level report
	ResearchReport ReportType = "research_report"
	// SubtopicReport is a self-contained expansion of one sub-topic; the
	// planner does not re-append the parent query for these
	SubtopicReport ReportType = "subtopic_report"
)

// ReportParams carries the caller-supplied shape of the requested report
type ReportParams struct {
	Type              ReportType `json:"type"`
	Tone              string     `json:"tone"`
	Format            string     `json:"format"` // markdown
	RolePrompt        string     `json:"role_prompt"`
	Guidelines        []string   `json:"guidelines"`
	EnforceGuidelines bool       `json:"enforce_guidelines"`
	TotalWords        int        `json:"total_words"`
	// SourceURLs switches the executor to targeted browsing: the given
	// URLs are scraped directly, no search step.
	SourceURLs []string `json:"source_urls"`
}

// Source is one scraped document. Never mutated after creation; stages that
// filter produce new slices.
type Source struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// ImageCandidate is an image found while scraping, before selection
type ImageCandidate struct {
	URL   string `json:"url"`
	Score int    `json:"score"` // 0-3 relevance, see tools/web_fetch
}

// ReportResult is the terminal output of a research task
type ReportResult struct {
	Query        string   `json:"query"`
	Report       string   `json:"report"`
	Sources      []Source `json:"sources"`
	Images       []string `json:"images"`
	Costs        float64  `json:"costs"`
	Events       []Event  `json:"events"`
	ReviewRounds int      `json:"review_rounds"`
}
