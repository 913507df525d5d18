package classify

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

var cmsPathFamilies = []struct {
	segment string
	match   *regexp.Regexp
}{
	{"wp-content", regexp.MustCompile(`/wp-content/`)},
	{"wp-includes", regexp.MustCompile(`/wp-includes/`)},
	{"sites/all", regexp.MustCompile(`/sites/all/`)},
	{"sites/default", regexp.MustCompile(`/sites/default/`)},
	{"media", regexp.MustCompile(`/media/(js|catalog)/`)},
	{"skin/frontend", regexp.MustCompile(`/skin/frontend/`)},
}

var libraryFamilies = []struct {
	name  string
	match *regexp.Regexp
}{
	{"jquery", regexp.MustCompile(`(?i)jquery`)},
	{"bootstrap", regexp.MustCompile(`(?i)bootstrap`)},
	{"angular", regexp.MustCompile(`(?i)angular`)},
	{"react", regexp.MustCompile(`(?i)react(\.|-dom)`)},
	{"vue", regexp.MustCompile(`(?i)vue(\.min)?\.js`)},
	{"lodash", regexp.MustCompile(`(?i)lodash`)},
	{"modernizr", regexp.MustCompile(`(?i)modernizr`)},
}

var trackingHosts = map[string]string{
	"www.google-analytics.com": "google-analytics",
	"googletagmanager.com":     "google-tag-manager",
	"www.googletagmanager.com": "google-tag-manager",
	"connect.facebook.net":     "facebook-pixel",
	"static.hotjar.com":        "hotjar",
	"cdn.segment.com":          "segment",
	"js.stripe.com":            "stripe",
}

var inlineSignatures = []struct {
	name  string
	match *regexp.Regexp
}{
	{"gtag", regexp.MustCompile(`(?i)gtag\(`)},
	{"fbq", regexp.MustCompile(`(?i)fbq\(`)},
	{"dataLayer", regexp.MustCompile(`dataLayer`)},
	{"wp-json", regexp.MustCompile(`wp-json`)},
}

// ClassifyScript returns the canonical pattern key for one observed
// <script> element, following the prefix rules of §4.3: path:, library:,
// tracking:, domain:, inline:, otherwise other:{hash8}.
func ClassifyScript(s types.Script) string {
	if s.Src == "" {
		return classifyInline(s.InlineContent)
	}
	return classifySrc(s.Src)
}

func classifySrc(src string) string {
	for _, f := range cmsPathFamilies {
		if f.match.MatchString(src) {
			return "path:" + f.segment
		}
	}
	base := path.Base(src)
	for _, f := range libraryFamilies {
		if f.match.MatchString(base) || f.match.MatchString(src) {
			return "library:" + f.name
		}
	}
	if u, err := url.Parse(src); err == nil && u.Host != "" {
		host := strings.ToLower(u.Host)
		if name, ok := trackingHosts[host]; ok {
			return "tracking:" + name
		}
		return "domain:" + secondLevelDomain(host)
	}
	return "other:" + hash8(src)
}

func classifyInline(content string) string {
	for _, f := range inlineSignatures {
		if f.match.MatchString(content) {
			return "inline:" + f.name
		}
	}
	return "other:" + hash8(content)
}

var scriptPatternVendors = map[string]string{
	"path:wp-content":     "WordPress",
	"path:wp-includes":    "WordPress",
	"path:sites/all":      "Drupal",
	"path:sites/default":  "Drupal",
	"path:media":          "Magento",
	"path:skin/frontend":  "Magento",
	"tracking:google-analytics": "Google Analytics",
	"tracking:google-tag-manager": "Google Tag Manager",
	"tracking:facebook-pixel": "Meta",
	"tracking:hotjar":     "Hotjar",
	"tracking:segment":    "Segment",
	"tracking:stripe":     "Stripe",
}

// VendorForScriptPattern maps a classified script pattern key (as returned
// by ClassifyScript) to a known vendor name, or "" when the pattern carries
// no vendor signal (§4.5 "script URL classifier" vendor lookup).
func VendorForScriptPattern(pattern string) string {
	return scriptPatternVendors[pattern]
}

// secondLevelDomain returns the registrable-ish domain (second-level plus
// TLD) for a host, e.g. "assets.cdn.example.com" -> "example.com". This is
// a heuristic, not a public-suffix-list lookup: good enough to bucket
// third-party script hosts without a network fetch.
func secondLevelDomain(host string) string {
	host = strings.TrimSuffix(host, ".")
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return host
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func hash8(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
