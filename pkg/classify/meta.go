package classify

import "regexp"

var generatorVendors = []struct {
	vendor string
	match  *regexp.Regexp
}{
	{"WordPress", regexp.MustCompile(`(?i)wordpress`)},
	{"Drupal", regexp.MustCompile(`(?i)drupal`)},
	{"Joomla", regexp.MustCompile(`(?i)joomla`)},
	{"Shopify", regexp.MustCompile(`(?i)shopify`)},
	{"Wix", regexp.MustCompile(`(?i)wix\.com`)},
	{"Squarespace", regexp.MustCompile(`(?i)squarespace`)},
	{"Webflow", regexp.MustCompile(`(?i)webflow`)},
	{"Ghost", regexp.MustCompile(`(?i)ghost`)},
	{"TYPO3", regexp.MustCompile(`(?i)typo3`)},
}

// VendorFromMetaValue inspects a meta-tag content string (typically a
// "generator" value) and returns a known CMS vendor name, or "" when no
// curated regex matches (§4.5 "meta value regexes (e.g. generator
// content)").
func VendorFromMetaValue(content string) string {
	for _, v := range generatorVendors {
		if v.match.MatchString(content) {
			return v.vendor
		}
	}
	return ""
}
