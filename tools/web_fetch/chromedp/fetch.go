package chromedp

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/researcher/tools/web_fetch/models"
)

type Fetch struct {
	Timeout   time.Duration
	MaxChars  int // maximum characters of article text to keep
	UserAgent string
}

func (f Fetch) Exec(ctx context.Context, rawURL string) (models.Page, error) {
	if strings.TrimSpace(rawURL) == "" {
		return models.Page{}, errors.New("invalid url")
	}

	ctx, cancel := context.WithTimeout(ctx, f.Timeout)
	defer cancel()
	t0 := time.Now()

	// Headless browsing
	html, err := f.fetchHTML(ctx, rawURL)
	if err != nil {
		return models.Page{URL: rawURL, Status: 599, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}

	// Extract content using readability
	article, err := readability.FromReader(strings.NewReader(html), mustParseURL(rawURL))
	if err != nil {
		return models.Page{URL: rawURL, Status: 200, RenderMS: int(time.Since(t0) / time.Millisecond)}, nil
	}
	text := article.TextContent
	if len(text) > f.MaxChars {
		text = text[:f.MaxChars]
	}

	// Hash raw HTML
	sum := sha1.Sum([]byte(html))
	htmlHash := hex.EncodeToString(sum[:])

	return models.Page{
		URL:      rawURL,
		Title:    strings.TrimSpace(article.Title),
		Byline:   strings.TrimSpace(article.Byline),
		Text:     strings.TrimSpace(text),
		HTMLHash: htmlHash,
		Images:   extractImages(article.Image, article.Content, rawURL),
		Status:   200,
		RenderMS: int(time.Since(t0) / time.Millisecond),
	}, nil
}

func (f Fetch) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	ua := f.UserAgent
	if ua == "" {
		ua = "ResearchAgent/1.0 (+contact@example.com)"
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.UserAgent(ua),
	)
	actx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	bctx, cancelBrowser := chromedp.NewContext(actx)
	defer cancelBrowser()

	var html string
	err := chromedp.Run(bctx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

var (
	imgTagPattern = regexp.MustCompile(`(?i)<img[^>]+>`)
	srcPattern    = regexp.MustCompile(`(?i)\bsrc=['"]([^'"]+)['"]`)
	altPattern    = regexp.MustCompile(`(?i)\balt=['"]([^'"]*)['"]`)
	widthPattern  = regexp.MustCompile(`(?i)\bwidth=['"]?(\d+)`)
	heightPattern = regexp.MustCompile(`(?i)\bheight=['"]?(\d+)`)
)

// extractImages collects image candidates from the article: the readability
// top image first, then every <img> in the cleaned content. Relative srcs
// resolve against the page URL.
func extractImages(topImage, content, pageURL string) []models.Image {
	base := mustParseURL(pageURL)
	var images []models.Image
	seen := make(map[string]bool)

	if topImage != "" {
		if u := resolveURL(base, topImage); u != "" {
			images = append(images, models.Image{URL: u, Score: 3})
			seen[u] = true
		}
	}

	for _, tag := range imgTagPattern.FindAllString(content, -1) {
		srcMatch := srcPattern.FindStringSubmatch(tag)
		if srcMatch == nil {
			continue
		}
		u := resolveURL(base, srcMatch[1])
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true

		alt := ""
		if m := altPattern.FindStringSubmatch(tag); m != nil {
			alt = strings.TrimSpace(m[1])
		}
		images = append(images, models.Image{URL: u, Alt: alt, Score: scoreImage(u, alt, attrInt(widthPattern, tag), attrInt(heightPattern, tag))})
	}
	return images
}

// scoreImage ranks a content image. Tiny dimensions and tracker-style URLs
// score zero so selection can drop them outright.
func scoreImage(u, alt string, width, height int) int {
	lower := strings.ToLower(u)
	for _, marker := range []string{"pixel", "1x1", "spacer", "tracking", "beacon", "badge", "icon", "sprite", "logo"} {
		if strings.Contains(lower, marker) {
			return 0
		}
	}
	if (width > 0 && width < 100) || (height > 0 && height < 100) {
		return 0
	}
	if alt != "" {
		return 2
	}
	return 1
}

func attrInt(re *regexp.Regexp, tag string) int {
	m := re.FindStringSubmatch(tag)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "data:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
