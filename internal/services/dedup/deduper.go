// -----------------------------------------------------------------------
// Deduper - process-local URL and content-hash caches
// -----------------------------------------------------------------------

package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	urlCacheSize     = 10000
	contentCacheSize = 10000
	contentTTL       = time.Hour

	// descriptionPrefix is how much of the description participates in the
	// checksum; boards rewrite trailing boilerplate too often to hash it all.
	descriptionPrefix = 500
)

// Deduper answers "have we seen this before" for URLs and content hashes.
// Both checks mark the key as seen. The caches are process-local and
// bounded; the durable record is the store's (board_id, checksum)
// uniqueness rule for non-duplicate raws.
type Deduper struct {
	urls *lru.Cache[string, struct{}]

	mu      sync.Mutex
	content *expirable.LRU[string, struct{}]
}

// NewDeduper builds the caches at their documented bounds.
func NewDeduper() (*Deduper, error) {
	urls, err := lru.New[string, struct{}](urlCacheSize)
	if err != nil {
		return nil, err
	}
	return &Deduper{
		urls:    urls,
		content: expirable.NewLRU[string, struct{}](contentCacheSize, nil, contentTTL),
	}, nil
}

// SeenURL reports whether the URL was checked before, marking it seen.
// Records without a URL are never URL-duplicates.
func (d *Deduper) SeenURL(url string) bool {
	if url == "" {
		return false
	}
	seen, _ := d.urls.ContainsOrAdd(url, struct{}{})
	return seen
}

// SeenContent reports whether the content hash was checked before,
// marking it seen. Entries age out after the content TTL.
func (d *Deduper) SeenContent(hash string) bool {
	if hash == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.content.Contains(hash) {
		return true
	}
	d.content.Add(hash, struct{}{})
	return false
}

var whitespace = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// Checksum computes the content identity of a posting: SHA-256 hex over
// the lowercased, whitespace-collapsed title, company, location and the
// first part of the description, pipe-joined.
func Checksum(title, company, location, description string) string {
	desc := collapse(strings.ToLower(description))
	if runes := []rune(desc); len(runes) > descriptionPrefix {
		desc = string(runes[:descriptionPrefix])
	}

	payload := strings.Join([]string{
		collapse(strings.ToLower(title)),
		collapse(strings.ToLower(company)),
		collapse(strings.ToLower(location)),
		desc,
	}, "|")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// collapse folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(whitespace.Replace(s)), " ")
}
