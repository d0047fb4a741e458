package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/laboro/internal/models"
)

// defaultListKeys are tried in order when an API board does not configure
// a `list` path and the response root is not already an array.
var defaultListKeys = []string{"jobs", "items", "results", "data"}

// APIExtractor pulls records out of JSON responses. The board's selectors
// double as dot paths: `list` addresses the array of records ("data.jobs"),
// field keys address values inside each record ("company.name"). Numeric
// segments index arrays.
type APIExtractor struct {
	logger arbor.ILogger
}

// NewAPIExtractor creates a dot-path JSON extractor.
func NewAPIExtractor(logger arbor.ILogger) *APIExtractor {
	return &APIExtractor{logger: logger}
}

// Extract decodes the body and walks the configured paths. An empty
// record array is an empty page; malformed JSON or a list path that does
// not resolve to an array is a parse failure.
func (e *APIExtractor) Extract(cfg *models.ConfigSnapshot, pageURL string, body []byte) ([]Extraction, error) {
	var root interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("failed to parse json response: %w", err)
	}

	items, err := e.recordArray(cfg, root)
	if err != nil {
		return nil, err
	}

	extractions := make([]Extraction, 0, len(items))
	for _, entry := range items {
		item, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}

		title := cleanText(e.fieldString(cfg, item, SelectorTitle, "title"))
		if title == "" {
			e.logger.Warn().Str("board", cfg.BoardName).Str("url", pageURL).Msg("Skipping api record without title")
			continue
		}

		description := e.fieldString(cfg, item, SelectorDescription, "description")
		if strings.Contains(description, "<") && strings.Contains(description, ">") {
			description = htmlToMarkdown(description, pageURL)
		} else {
			description = strings.TrimSpace(description)
		}

		extractions = append(extractions, Extraction{
			Title:          title,
			Company:        cleanText(e.fieldString(cfg, item, SelectorCompany, "company")),
			Location:       cleanText(e.fieldString(cfg, item, SelectorLocation, "location")),
			Description:    description,
			URL:            resolveURL(pageURL, e.fieldString(cfg, item, SelectorURL, "url")),
			SalaryText:     cleanText(e.fieldString(cfg, item, SelectorSalary, "salary")),
			JobTypeText:    cleanText(e.fieldString(cfg, item, SelectorJobType, "job_type")),
			PostedDateText: cleanText(e.fieldString(cfg, item, SelectorPostedDate, "posted_date")),
			Raw:            item,
		})
	}

	return extractions, nil
}

// recordArray locates the array of job records in the response.
func (e *APIExtractor) recordArray(cfg *models.ConfigSnapshot, root interface{}) ([]interface{}, error) {
	if path := cfg.Selectors[SelectorList]; path != "" {
		value, found := lookupPath(root, path)
		if !found {
			return nil, fmt.Errorf("list path %q not present in response", path)
		}
		items, ok := value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("list path %q did not resolve to an array", path)
		}
		return items, nil
	}

	if items, ok := root.([]interface{}); ok {
		return items, nil
	}
	for _, key := range defaultListKeys {
		if value, found := lookupPath(root, key); found {
			if items, ok := value.([]interface{}); ok {
				return items, nil
			}
		}
	}
	return nil, fmt.Errorf("no record array found in response; configure a list path")
}

// fieldString resolves the configured dot path for a field, defaulting to
// the conventional key when the board leaves it unset.
func (e *APIExtractor) fieldString(cfg *models.ConfigSnapshot, item map[string]interface{}, selectorKey, defaultPath string) string {
	path := cfg.Selectors[selectorKey]
	if path == "" {
		path = defaultPath
	}
	value, found := lookupPath(item, path)
	if !found || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// lookupPath walks a dot path through nested objects and arrays.
func lookupPath(root interface{}, path string) (interface{}, bool) {
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]interface{}:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []interface{}:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}
