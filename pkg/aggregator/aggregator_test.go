package aggregator_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/crawlstats/pkg/aggregator"
	"github.com/jordigilh/crawlstats/pkg/analyzers/bias"
	"github.com/jordigilh/crawlstats/pkg/analyzers/discovery"
	"github.com/jordigilh/crawlstats/pkg/errs"
	"github.com/jordigilh/crawlstats/pkg/shared/types"
)

func wpSite(cms string, headers ...string) *types.SiteData {
	sd := types.NewSiteData("")
	sd.CMS = cms
	for _, h := range headers {
		sd.Headers[h] = map[string]struct{}{"v": {}}
	}
	return sd
}

func smallCorpus() *types.PreprocessedData {
	data := &types.PreprocessedData{Sites: map[string]*types.SiteData{}}
	for i := 0; i < 12; i++ {
		name := string(rune('a' + i))
		if i < 8 {
			data.Sites["wp"+name] = wpSite("WordPress", "x-pingback", "x-wp-total", "server")
		} else {
			data.Sites["dr"+name] = wpSite("Drupal", "x-drupal-cache", "server")
		}
	}
	data.TotalSites = len(data.Sites)
	return data
}

var _ = Describe("Aggregator.Analyze", func() {
	var g *aggregator.Aggregator
	var opts types.Options

	BeforeEach(func() {
		g = aggregator.New(nil, discovery.DefaultConfig(), bias.DefaultThresholds())
		opts = types.Options{MinOccurrences: 1, IncludeExamples: true, MaxExamples: 5}
	})

	It("runs every stage and assembles a complete AggregatedResults", func() {
		data := smallCorpus()
		result, err := g.Analyze(context.Background(), data, opts)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Headers).NotTo(BeNil())
		Expect(result.Validation).NotTo(BeNil())
		Expect(result.Vendor).NotTo(BeNil())
		Expect(result.Semantic).NotTo(BeNil())
		Expect(result.Discovery).NotTo(BeNil())
		Expect(result.Cooccurrence).NotTo(BeNil())
		Expect(result.Bias).NotTo(BeNil())
		Expect(result.Summary.TotalSites).To(Equal(12))
		Expect(result.Metadata.RunID).NotTo(BeEmpty())
	})

	It("carries the server header in the headers dimension", func() {
		data := smallCorpus()
		result, err := g.Analyze(context.Background(), data, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Headers.Patterns).To(HaveKey("server"))
		Expect(result.Headers.Patterns["server"].SiteCount).To(Equal(12))
	})

	It("returns a Cancelled error when the context is already done", func() {
		data := smallCorpus()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := g.Analyze(ctx, data, opts)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, errs.ErrCancelled)).To(BeTrue())
	})

	It("attaches a platform-discrimination summary only when requested", func() {
		data := smallCorpus()
		opts.FocusPlatformDiscrimination = false
		result, err := g.Analyze(context.Background(), data, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Summary.PlatformDiscrimination).To(BeNil())

		opts.FocusPlatformDiscrimination = true
		result, err = g.Analyze(context.Background(), data, opts)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Summary.PlatformDiscrimination).NotTo(BeNil())
	})

	It("accepts a new call on the same instance once the previous call has finished", func() {
		data := smallCorpus()
		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _ = g.Analyze(context.Background(), data, opts)
		}()
		<-done
		// Sequential re-entry after the first call finished must still
		// succeed: the busy guard is released when a call returns.
		_, err := g.Analyze(context.Background(), data, opts)
		Expect(err).NotTo(HaveOccurred())
	})
})
