package research

import (
	"fmt"
	"strings"
	"time"

	searchmodels "github.com/mohammad-safakhou/researcher/tools/web_search/models"
)

func planPrompt(query string, seed []searchmodels.Result, maxSubQueries int) string {
	var seedBlock string
	if len(seed) > 0 {
		var lines []string
		for _, r := range seed {
			lines = append(lines, fmt.Sprintf("- %s (%s): %s", r.Title, r.URL, r.Snippet))
		}
		seedBlock = fmt.Sprintf("Initial search results for context:\n%s\n\n", strings.Join(lines, "\n"))
	}
	return fmt.Sprintf(`You are a research planner. Decompose the task into focused web search queries that together cover it from different angles.

Task: "%s"
Today: %s

%sRespond with at most %d search queries, one per line. No numbering, no quotes, no other text.`,
		query, time.Now().Format("2006-01-02"), seedBlock, maxSubQueries)
}

func curatePrompt(query string, sources []Source, maxResults int) string {
	var lines []string
	for _, s := range sources {
		summary := s.Content
		if len(summary) > 400 {
			summary = summary[:400]
		}
		lines = append(lines, fmt.Sprintf("URL: %s\nTitle: %s\nExcerpt: %s", s.URL, s.Title, summary))
	}
	return fmt.Sprintf(`You are evaluating sources gathered for the research task "%s".

Sources:
%s

Keep only credible, relevant sources. Prefer primary sources and well-known publishers, drop thin or promotional pages.

Respond ONLY with a JSON array of the URLs to keep, best first, at most %d entries. Example: ["https://a.com","https://b.com"]`,
		query, strings.Join(lines, "\n\n"), maxResults)
}

func reportSystemPrompt(params ReportParams) string {
	role := params.RolePrompt
	if role == "" {
		role = "You are a meticulous research analyst. You write factual, well-structured reports grounded strictly in the provided sources."
	}
	return role
}

func reportUserPrompt(query, context string, params ReportParams) string {
	format := params.Format
	if format == "" {
		format = "markdown"
	}
	tone := params.Tone
	if tone == "" {
		tone = "objective"
	}
	words := params.TotalWords
	if words <= 0 {
		words = 1200
	}

	if params.Type == SubtopicReport {
		return fmt.Sprintf(`Context:
"""
%s
"""

Using ONLY the context above, write a focused section about the sub-topic "%s".
- This section is part of a larger report: do not write an introduction, conclusion or summary.
- Do not repeat content that the context marks as already written.
- %s format, %s tone, around %d words.
- Use markdown headers (## and below) to structure the section.`,
			context, query, format, tone, words)
	}

	return fmt.Sprintf(`Context:
"""
%s
"""

Using ONLY the context above, write a detailed research report answering: "%s".
- Form a concrete, well-supported position; avoid vague or inconclusive statements.
- %s format, %s tone, around %d words.
- Structure the report with markdown headers.
- Cite source URLs inline where they support a claim.
Today's date is %s.`,
		context, query, format, tone, words, time.Now().Format("January 2, 2006"))
}

func introductionPrompt(query, context string) string {
	return fmt.Sprintf(`Context:
"""
%s
"""

Write a concise introduction for a detailed report on "%s". One paragraph, markdown, no headers, no conclusions - only set up the subject and why it matters. Today's date is %s.`,
		context, query, time.Now().Format("January 2, 2006"))
}

func conclusionPrompt(query, report string) string {
	return fmt.Sprintf(`Report:
"""
%s
"""

Write a conclusion for the report above on "%s". Summarize the key findings and their implications in one or two paragraphs of markdown. If the report ends with a conclusion already, respond with an improved version of it.`,
		report, query)
}

func sectionTitlesPrompt(query, context string) string {
	return fmt.Sprintf(`Context:
"""
%s
"""

Propose the section headers for a detailed report on "%s". Respond with one header per line, no numbering, no markdown markers, at most 8 lines. The first line is the report title.`,
		context, query)
}

func reviewPrompt(draft string, guidelines []string, previousNotes []string) string {
	var notesBlock string
	if len(previousNotes) > 0 {
		notesBlock = fmt.Sprintf("\nThe draft was already revised for these notes, do not repeat them:\n%s\n", strings.Join(previousNotes, "\n---\n"))
	}
	return fmt.Sprintf(`You are a reviewer checking a report draft against the following guidelines:
%s
%s
Draft:
"""
%s
"""

If the draft sufficiently satisfies ALL guidelines, respond with exactly "None".
Otherwise respond with the specific revision notes needed to satisfy them. Only reject for clear guideline violations.`,
		"- "+strings.Join(guidelines, "\n- "), notesBlock, draft)
}

func revisePrompt(draft string, feedback string) string {
	return fmt.Sprintf(`Draft:
"""
%s
"""

Reviewer notes:
"""
%s
"""

Rewrite the draft so it addresses every note while keeping everything that was not criticized. Respond with the full revised draft only.`,
		draft, feedback)
}
