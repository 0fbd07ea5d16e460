package models

// Image is an image candidate found on a page. Score ranks relevance:
// 3 top/OG image, 2 content image with alt text, 1 other content image,
// 0 tiny or tracker-looking.
type Image struct {
	URL   string `json:"url"`
	Alt   string `json:"alt"`
	Score int    `json:"score"`
}

// Page is the extracted content of one fetched URL
type Page struct {
	URL      string  `json:"url"`
	Title    string  `json:"title"`
	Byline   string  `json:"byline"`
	Text     string  `json:"text"`
	HTMLHash string  `json:"html_hash"`
	Images   []Image `json:"images"`
	Status   int     `json:"status"`
	RenderMS int     `json:"render_ms"`
}
