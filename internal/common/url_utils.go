package common

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// RegistrableDomain returns the eTLD+1 for a URL, the key used for
// per-domain rate accounting. Hosts without a public suffix (IPs,
// localhost, bare hostnames) key on the host itself.
func RegistrableDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL %s: %w", rawURL, err)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("URL %s has no host", rawURL)
	}

	if net.ParseIP(host) != nil {
		return host, nil
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		// localhost and single-label hosts land here
		return strings.ToLower(host), nil
	}
	return strings.ToLower(domain), nil
}

// BuildPageURL renders a board URL template for one page. Supported
// placeholders: {page}, {keywords}, {location}. When the template has no
// {page} placeholder, pages beyond the first get a page query parameter
// appended so paginated boards without templates still advance.
func BuildPageURL(template string, page int, keywords, location string) string {
	result := template
	result = strings.ReplaceAll(result, "{page}", strconv.Itoa(page))
	result = strings.ReplaceAll(result, "{keywords}", url.QueryEscape(keywords))
	result = strings.ReplaceAll(result, "{location}", url.QueryEscape(location))

	if !strings.Contains(template, "{page}") && page > 1 {
		separator := "?"
		if strings.Contains(result, "?") {
			separator = "&"
		}
		result = fmt.Sprintf("%s%spage=%d", result, separator, page)
	}

	return result
}

// IsTestURL reports whether a URL points at a loopback or private test host.
// Production deployments reject boards configured with these.
func IsTestURL(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".test") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback() || ip.IsPrivate()
	}
	return false
}
