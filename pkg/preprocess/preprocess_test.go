package preprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func TestNormalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/path", "http://example.com/path"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps non-default port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"drops trailing slash", "https://example.com/path/", "https://example.com/path"},
		{"drops fragment, keeps query", "https://example.com/a?x=1#section", "https://example.com/a?x=1"},
		{"root path with trailing slash", "https://example.com/", "https://example.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			if err != nil {
				t.Fatalf("NormalizeURL(%q) error: %v", tc.in, err)
			}
			if got != tc.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	once, err := NormalizeURL("HTTP://Example.com:80/a/b/")
	if err != nil {
		t.Fatalf("first normalize: %v", err)
	}
	twice, err := NormalizeURL(once)
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}
	if once != twice {
		t.Errorf("normalization not idempotent: %q != %q", once, twice)
	}
}

func TestNormalizeURLRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "not-a-url", "/relative/path"} {
		if _, err := NormalizeURL(in); err == nil {
			t.Errorf("NormalizeURL(%q): expected error, got nil", in)
		}
	}
}

func recordsChan(records ...types.CaptureRecord) <-chan types.CaptureRecord {
	ch := make(chan types.CaptureRecord, len(records))
	for _, r := range records {
		ch <- r
	}
	close(ch)
	return ch
}

func TestPreprocessMergesDuplicateSites(t *testing.T) {
	a := types.CaptureRecord{
		URL:         "https://Example.com/",
		HTTPHeaders: map[string][]string{"Server": {"nginx"}},
		DetectionResults: []types.DetectionResult{
			{CMS: "WordPress", Confidence: 0.6},
		},
	}
	b := types.CaptureRecord{
		URL:         "https://example.com",
		HTTPHeaders: map[string][]string{"x-powered-by": {"PHP"}},
		DetectionResults: []types.DetectionResult{
			{CMS: "WordPress", Confidence: 0.95},
		},
	}
	data, err := Preprocess(context.Background(), recordsChan(a, b), Options{}, nil)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if data.TotalSites != 1 {
		t.Fatalf("TotalSites = %d, want 1", data.TotalSites)
	}
	site := data.Sites["https://example.com"]
	if site == nil {
		t.Fatal("missing merged site")
	}
	if _, ok := site.Headers["server"]; !ok {
		t.Error("missing server header from first record")
	}
	if _, ok := site.Headers["x-powered-by"]; !ok {
		t.Error("missing x-powered-by header from second record")
	}
	if site.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95 (highest-confidence wins)", site.Confidence)
	}
	if data.FilteringStats.Duplicate != 1 {
		t.Errorf("FilteringStats.Duplicate = %d, want 1", data.FilteringStats.Duplicate)
	}
}

func TestPreprocessEmptyCorpus(t *testing.T) {
	_, err := Preprocess(context.Background(), recordsChan(), Options{}, nil)
	if err == nil {
		t.Fatal("expected EmptyCorpus error")
	}
	if !errors.Is(err, errs.ErrEmptyCorpus) {
		t.Errorf("error = %v, want wrapping errs.ErrEmptyCorpus", err)
	}
}

func TestPreprocessDropsMalformedRecords(t *testing.T) {
	malformed := types.CaptureRecord{URL: ""}
	ok := types.CaptureRecord{URL: "https://example.com"}
	data, err := Preprocess(context.Background(), recordsChan(malformed, ok), Options{}, nil)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if data.FilteringStats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", data.FilteringStats.Malformed)
	}
	if data.TotalSites != 1 {
		t.Errorf("TotalSites = %d, want 1", data.TotalSites)
	}
}

func TestPreprocessDateFilter(t *testing.T) {
	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 11, 30, 0, 0, 0, 0, time.UTC)
	mk := func(host string, ts time.Time) types.CaptureRecord {
		return types.CaptureRecord{URL: "https://" + host, Timestamp: ts}
	}
	records := []types.CaptureRecord{
		mk("a.example.com", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		mk("b.example.com", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		mk("c.example.com", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)),
	}
	data, err := Preprocess(context.Background(), recordsChan(records...), Options{
		DateRange: types.DateRange{Start: &start, End: &end},
	}, nil)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if data.TotalSites != 1 {
		t.Fatalf("TotalSites = %d, want 1", data.TotalSites)
	}
	if data.FilteringStats.DateFilter != 2 {
		t.Errorf("DateFilter = %d, want 2", data.FilteringStats.DateFilter)
	}
}
