// -----------------------------------------------------------------------
// Extractors - one fetched page in, candidate job records out
// -----------------------------------------------------------------------

package extract

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/models"
)

// Extraction is one candidate job record pulled from a fetched page.
// Values are raw source text; parsing and typing happen in the normalizer.
type Extraction struct {
	Title          string
	Company        string
	Location       string
	Description    string
	URL            string
	SalaryText     string
	JobTypeText    string
	PostedDateText string

	// Raw preserves the structured source blob (RSS item, API object,
	// selector capture) for reprocessing.
	Raw map[string]interface{}
}

// Extractor turns one fetched page into candidate records. Implementations
// are stateless across calls and safe for concurrent use. Zero extractions
// with a nil error means an empty page, which the worker counts toward its
// early stop; a non-nil error is a parse failure for this page.
type Extractor interface {
	Extract(cfg *models.ConfigSnapshot, pageURL string, body []byte) ([]Extraction, error)
}

// Set bundles one extractor per run type for executor dispatch.
type Set struct {
	rss  *RSSExtractor
	html *HTMLExtractor
	api  *APIExtractor
}

// NewSet constructs the extractor set shared by all workers.
func NewSet(logger arbor.ILogger) *Set {
	return &Set{
		rss:  NewRSSExtractor(logger),
		html: NewHTMLExtractor(logger),
		api:  NewAPIExtractor(logger),
	}
}

// ForType returns the extractor responsible for a run type.
func (s *Set) ForType(t models.RunType) Extractor {
	switch t {
	case models.RunTypeRSS:
		return s.rss
	case models.RunTypeAPI:
		return s.api
	default:
		return s.html
	}
}

var (
	tagPattern   = regexp.MustCompile(`<[^>]*>`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// htmlToMarkdown converts description HTML to markdown, falling back to
// tag stripping when conversion fails or produces nothing.
func htmlToMarkdown(html, baseURL string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(html)
	if err != nil || strings.TrimSpace(converted) == "" {
		return stripTags(html)
	}
	return strings.TrimSpace(converted)
}

// stripTags removes markup and collapses whitespace for fallback cases.
func stripTags(html string) string {
	stripped := tagPattern.ReplaceAllString(html, " ")
	stripped = strings.ReplaceAll(stripped, "&amp;", "&")
	stripped = strings.ReplaceAll(stripped, "&lt;", "<")
	stripped = strings.ReplaceAll(stripped, "&gt;", ">")
	stripped = strings.ReplaceAll(stripped, "&quot;", "\"")
	stripped = strings.ReplaceAll(stripped, "&#39;", "'")
	stripped = strings.ReplaceAll(stripped, "&nbsp;", " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(stripped, " "))
}

// cleanText collapses whitespace runs in extracted text.
func cleanText(s string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}
