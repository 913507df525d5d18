// Package preprocess implements the data preprocessor (§4.1): it reads raw
// CaptureRecords, normalizes each to a site key, merges duplicates by set
// union, and produces the PreprocessedData every analyzer stage shares.
package preprocess

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jordigilh/crawlstats/pkg/classify"
	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

// Options configures one Preprocess call. DateRange bounds are inclusive;
// an unset bound is open. Filter, when set, drops a raw record before
// normalization (SPEC_FULL §3 domain stack).
type Options struct {
	DateRange   types.DateRange
	ForceReload bool
	Filter      *Filter
}

// cancelCheckEvery bounds how often the preprocessor polls ctx.Done() in
// its otherwise tight per-record loop: once every 4096 records.
const cancelCheckEvery = 1 << 12

// NormalizeURL canonicalizes a raw URL to the single site key every
// CaptureRecord that targets the same logical site collapses onto:
// lowercase scheme+host, default ports stripped, fragment dropped,
// trailing slash on the path dropped, path and query preserved (§4.1).
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errs.Load("empty url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", errs.Load("unparseable url %q: %v", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errs.Load("url %q missing scheme or host", raw)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if h, port, err := net.SplitHostPort(host); err == nil {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
		}
	}
	path := strings.TrimSuffix(u.Path, "/")
	normalized := scheme + "://" + host + path
	if u.RawQuery != "" {
		normalized += "?" + u.RawQuery
	}
	return normalized, nil
}

// Preprocess consumes every CaptureRecord on records, applies the optional
// date filter and jq pre-filter, normalizes and merges into SiteData, and
// returns the resulting PreprocessedData. It fails with errs.ErrEmptyCorpus
// when zero sites survive, and with errs.ErrCancelled when ctx is done
// before the channel is drained.
func Preprocess(ctx context.Context, records <-chan types.CaptureRecord, opts Options, logger *logrus.Entry) (*types.PreprocessedData, error) {
	data := &types.PreprocessedData{
		Sites: make(map[string]*types.SiteData),
		Metadata: types.PreprocessedMetadata{
			Version:  "1",
			LoadedAt: time.Now(),
			Context:  make(map[string]any),
		},
	}

	i := 0
	for rec := range records {
		i++
		if i%cancelCheckEvery == 0 {
			select {
			case <-ctx.Done():
				return nil, errs.Cancelled("preprocess")
			default:
			}
		}

		if opts.Filter != nil && !opts.Filter.Matches(rec) {
			continue
		}
		if rec.URL == "" {
			data.FilteringStats.Malformed++
			continue
		}
		if !opts.DateRange.Contains(rec.Timestamp) {
			data.FilteringStats.DateFilter++
			continue
		}
		normalized, err := NormalizeURL(rec.URL)
		if err != nil {
			data.FilteringStats.Malformed++
			continue
		}

		site, existed := data.Sites[normalized]
		if !existed {
			site = types.NewSiteData(normalized)
			site.URL = rec.URL
			data.Sites[normalized] = site
		} else {
			data.FilteringStats.Duplicate++
		}
		mergeRecord(site, rec)
	}

	data.TotalSites = len(data.Sites)
	if data.TotalSites == 0 {
		return nil, errs.EmptyCorpus(0, 1)
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"stage":           "preprocess",
			"total_sites":     data.TotalSites,
			"date_filtered":   data.FilteringStats.DateFilter,
			"duplicates":      data.FilteringStats.Duplicate,
			"malformed":       data.FilteringStats.Malformed,
		}).Info("preprocessing complete")
	}
	return data, nil
}

// mergeRecord folds one CaptureRecord into the SiteData for its normalized
// URL: header/meta/script values are set-unioned, and the highest-
// confidence detection result wins (ties broken lexically by CMS name).
func mergeRecord(site *types.SiteData, rec types.CaptureRecord) {
	mergeHeaderSet(site.Headers, rec.HTTPHeaders)
	if rec.RobotsTxt != nil {
		mergeHeaderSet(site.RobotsHeaders, rec.RobotsTxt.HTTPHeaders)
	}

	for _, m := range rec.MetaTags {
		key := string(m.Kind) + ":" + strings.ToLower(strings.TrimSpace(m.Key))
		if site.MetaTags[key] == nil {
			site.MetaTags[key] = make(map[string]struct{})
		}
		site.MetaTags[key][m.Content] = struct{}{}
		if vendor := classify.VendorFromMetaValue(m.Content); vendor != "" {
			site.Technologies[vendor] = struct{}{}
		}
	}

	for _, s := range rec.Scripts {
		key := classify.ClassifyScript(s)
		site.Scripts[key] = struct{}{}
		if vendor := classify.VendorForScriptPattern(key); vendor != "" {
			site.Technologies[vendor] = struct{}{}
		}
	}

	for _, d := range rec.DetectionResults {
		if d.Confidence > site.Confidence ||
			(d.Confidence == site.Confidence && (site.CMS == "" || site.CMS == "Unknown") && d.CMS != "") ||
			(d.Confidence == site.Confidence && d.CMS < site.CMS && d.CMS != "") {
			site.CMS = d.CMS
			site.Confidence = d.Confidence
		}
	}
	if site.CMS == "" {
		site.CMS = "Unknown"
	}

	if rec.Timestamp.After(site.CapturedAt) {
		site.CapturedAt = rec.Timestamp
	}
}

func mergeHeaderSet(dst map[string]map[string]struct{}, src map[string][]string) {
	for name, values := range src {
		key := strings.ToLower(strings.TrimSpace(name))
		if dst[key] == nil {
			dst[key] = make(map[string]struct{})
		}
		for _, v := range values {
			dst[key][v] = struct{}{}
		}
	}
}
