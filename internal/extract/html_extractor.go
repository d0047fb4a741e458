package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/models"
)

// Selector keys recognized on HTML boards. `list` scopes one record per
// match; the field selectors are evaluated inside each match. API boards
// reuse the same keys as JSON dot paths.
const (
	SelectorList        = "list"
	SelectorTitle       = "title"
	SelectorCompany     = "company"
	SelectorLocation    = "location"
	SelectorDescription = "description"
	SelectorURL         = "url"
	SelectorSalary      = "salary"
	SelectorJobType     = "job_type"
	SelectorPostedDate  = "posted_date"
)

// HTMLExtractor pulls records out of listing pages using the board's CSS
// selectors. Without a `list` selector the whole page is treated as a
// single record (detail-page boards).
type HTMLExtractor struct {
	logger arbor.ILogger
}

// NewHTMLExtractor creates a selector-driven HTML extractor.
func NewHTMLExtractor(logger arbor.ILogger) *HTMLExtractor {
	return &HTMLExtractor{logger: logger}
}

// Extract evaluates the board selectors against the page. A list selector
// matching nothing is an empty page; a board without a title selector is a
// configuration error.
func (e *HTMLExtractor) Extract(cfg *models.ConfigSnapshot, pageURL string, body []byte) ([]Extraction, error) {
	if len(cfg.Selectors) == 0 || cfg.Selectors[SelectorTitle] == "" {
		return nil, fmt.Errorf("html board %s has no title selector configured", cfg.BoardName)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	var scopes []*goquery.Selection
	if listSelector := cfg.Selectors[SelectorList]; listSelector != "" {
		doc.Find(listSelector).Each(func(i int, s *goquery.Selection) {
			scopes = append(scopes, s)
		})
	} else {
		scopes = append(scopes, doc.Selection)
	}

	extractions := make([]Extraction, 0, len(scopes))
	for _, scope := range scopes {
		extraction, ok := e.fromScope(cfg, scope, pageURL)
		if !ok {
			continue
		}
		extractions = append(extractions, extraction)
	}

	return extractions, nil
}

// fromScope captures one record from a list item (or the whole page).
// Records without a title are dropped.
func (e *HTMLExtractor) fromScope(cfg *models.ConfigSnapshot, scope *goquery.Selection, pageURL string) (Extraction, bool) {
	title := e.selectText(scope, cfg.Selectors[SelectorTitle])
	if title == "" {
		e.logger.Warn().Str("board", cfg.BoardName).Str("url", pageURL).Msg("Skipping record where title selector matched nothing")
		return Extraction{}, false
	}

	raw := map[string]interface{}{"title": title}
	extraction := Extraction{Title: title, Raw: raw}

	if company := e.selectText(scope, cfg.Selectors[SelectorCompany]); company != "" {
		extraction.Company = company
		raw["company"] = company
	}
	if location := e.selectText(scope, cfg.Selectors[SelectorLocation]); location != "" {
		extraction.Location = location
		raw["location"] = location
	}
	if salary := e.selectText(scope, cfg.Selectors[SelectorSalary]); salary != "" {
		extraction.SalaryText = salary
		raw["salary"] = salary
	}
	if jobType := e.selectText(scope, cfg.Selectors[SelectorJobType]); jobType != "" {
		extraction.JobTypeText = jobType
		raw["job_type"] = jobType
	}
	if posted := e.selectText(scope, cfg.Selectors[SelectorPostedDate]); posted != "" {
		extraction.PostedDateText = posted
		raw["posted_date"] = posted
	}

	if selector := cfg.Selectors[SelectorDescription]; selector != "" {
		if node := scope.Find(selector).First(); node.Length() > 0 {
			html, err := node.Html()
			if err != nil || strings.TrimSpace(html) == "" {
				extraction.Description = cleanText(node.Text())
			} else {
				extraction.Description = htmlToMarkdown(html, pageURL)
			}
			raw["description"] = extraction.Description
		}
	}

	if href := e.selectURL(scope, cfg.Selectors[SelectorURL]); href != "" {
		extraction.URL = resolveURL(pageURL, href)
		raw["url"] = extraction.URL
	}

	return extraction, true
}

func (e *HTMLExtractor) selectText(scope *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return cleanText(scope.Find(selector).First().Text())
}

// selectURL reads the href attribute of the matched element, falling back
// to its text. Title selectors pointing at anchors make `url` optional.
func (e *HTMLExtractor) selectURL(scope *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	node := scope.Find(selector).First()
	if node.Length() == 0 {
		return ""
	}
	if href, exists := node.Attr("href"); exists && href != "" {
		return href
	}
	return cleanText(node.Text())
}
