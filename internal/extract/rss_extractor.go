package extract

import (
	"encoding/xml"
	"fmt"
	"net/url"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/models"
)

// rssFeed is the RSS 2.0 document shape. Namespaced extensions like
// dc:creator match by local name.
type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Author      string   `xml:"author"`
	Creator     string   `xml:"creator"`
	PubDate     string   `xml:"pubDate"`
	GUID        string   `xml:"guid"`
	Categories  []string `xml:"category"`
}

// atomFeed is the Atom document shape, tried when the payload is not RSS.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title     string     `xml:"title"`
	Links     []atomLink `xml:"link"`
	Summary   string     `xml:"summary"`
	Content   string     `xml:"content"`
	Author    atomAuthor `xml:"author"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	ID        string     `xml:"id"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

// RSSExtractor parses job feeds. RSS 2.0 is tried first, Atom second; the
// root element name discriminates between the two.
type RSSExtractor struct {
	logger arbor.ILogger
}

// NewRSSExtractor creates an RSS/Atom feed extractor.
func NewRSSExtractor(logger arbor.ILogger) *RSSExtractor {
	return &RSSExtractor{logger: logger}
}

// Extract parses the feed body. A well-formed feed with no items is an
// empty page, not an error.
func (e *RSSExtractor) Extract(cfg *models.ConfigSnapshot, pageURL string, body []byte) ([]Extraction, error) {
	var feed rssFeed
	rssErr := xml.Unmarshal(body, &feed)
	if rssErr == nil {
		return e.fromRSS(&feed, pageURL), nil
	}

	var atom atomFeed
	if atomErr := xml.Unmarshal(body, &atom); atomErr == nil {
		return e.fromAtom(&atom, pageURL), nil
	}

	return nil, fmt.Errorf("feed is neither RSS 2.0 nor Atom: %w", rssErr)
}

func (e *RSSExtractor) fromRSS(feed *rssFeed, pageURL string) []Extraction {
	extractions := make([]Extraction, 0, len(feed.Channel.Items))
	for _, item := range feed.Channel.Items {
		title := cleanText(item.Title)
		if title == "" {
			e.logger.Warn().Str("feed", feed.Channel.Title).Str("guid", item.GUID).Msg("Skipping feed item without title")
			continue
		}

		company := cleanText(item.Creator)
		if company == "" {
			company = cleanText(item.Author)
		}

		extractions = append(extractions, Extraction{
			Title:          title,
			Company:        company,
			Description:    htmlToMarkdown(item.Description, pageURL),
			URL:            resolveURL(pageURL, item.Link),
			PostedDateText: cleanText(item.PubDate),
			Raw: map[string]interface{}{
				"title":       item.Title,
				"link":        item.Link,
				"description": item.Description,
				"author":      item.Author,
				"creator":     item.Creator,
				"pub_date":    item.PubDate,
				"guid":        item.GUID,
				"categories":  item.Categories,
			},
		})
	}
	return extractions
}

func (e *RSSExtractor) fromAtom(feed *atomFeed, pageURL string) []Extraction {
	extractions := make([]Extraction, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		title := cleanText(entry.Title)
		if title == "" {
			e.logger.Warn().Str("feed", feed.Title).Str("id", entry.ID).Msg("Skipping feed entry without title")
			continue
		}

		description := entry.Content
		if description == "" {
			description = entry.Summary
		}

		posted := entry.Published
		if posted == "" {
			posted = entry.Updated
		}

		extractions = append(extractions, Extraction{
			Title:          title,
			Company:        cleanText(entry.Author.Name),
			Description:    htmlToMarkdown(description, pageURL),
			URL:            resolveURL(pageURL, atomEntryLink(entry)),
			PostedDateText: cleanText(posted),
			Raw: map[string]interface{}{
				"title":     entry.Title,
				"link":      atomEntryLink(entry),
				"content":   description,
				"author":    entry.Author.Name,
				"published": posted,
				"id":        entry.ID,
			},
		})
	}
	return extractions
}

// atomEntryLink prefers the alternate link, falling back to the first.
func atomEntryLink(entry atomEntry) string {
	for _, link := range entry.Links {
		if link.Rel == "" || link.Rel == "alternate" {
			return link.Href
		}
	}
	if len(entry.Links) > 0 {
		return entry.Links[0].Href
	}
	return ""
}

// resolveURL resolves href against the page URL so relative links come
// back absolute. Unparseable inputs are returned as-is.
func resolveURL(pageURL, href string) string {
	if href == "" {
		return ""
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return href
	}
	resolved, err := base.Parse(href)
	if err != nil {
		return href
	}
	return resolved.String()
}
