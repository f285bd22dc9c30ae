package metrics

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/config"
)

const defaultScrapeTimeout = 10 * time.Second

// Scraper polls one Prometheus text endpoint and records the configured
// metric families as samples.
type Scraper struct {
	src    config.Source
	client *http.Client
	buf    *Buffer
	now    func() time.Time
}

// NewScraper creates a Scraper that writes into buf.
func NewScraper(src config.Source, buf *Buffer) *Scraper {
	return &Scraper{
		src: src,
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, auth: src.Auth},
			Timeout:   defaultScrapeTimeout,
		},
		buf: buf,
		now: time.Now,
	}
}

// Run scrapes immediately and then every src.Interval until ctx is
// cancelled. Failed scrapes are logged and produce no samples, so the
// evaluator sees the gap as missing data rather than zeros.
func (s *Scraper) Run(ctx context.Context) {
	s.scrapeAndLog(ctx)

	t := time.NewTicker(s.src.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.scrapeAndLog(ctx)
		}
	}
}

func (s *Scraper) scrapeAndLog(ctx context.Context) {
	n, err := s.Scrape(ctx)
	if err != nil {
		slog.Warn("metrics: scrape failed", "source", s.src.ID, "err", err)
		return
	}
	slog.Debug("metrics: scraped", "source", s.src.ID, "samples", n)
}

// Scrape fetches the endpoint once and records one sample per mapping
// whose family is present. It returns the number of samples recorded.
func (s *Scraper) Scrape(ctx context.Context) (int, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		return 0, err
	}

	now := s.now()
	samples := make([]types.Sample, 0, len(s.src.Metrics))
	for _, m := range s.src.Metrics {
		mf, ok := mfs[m.Family]
		if !ok {
			continue
		}
		v, ok := aggregate(mf, m.Aggregate)
		if !ok {
			continue
		}
		samples = append(samples, types.Sample{
			Metric:    types.Metric(m.Metric),
			Name:      m.Name,
			Value:     v * m.Scale,
			Tags:      map[string]string{"source": s.src.ID, "family": m.Family},
			Timestamp: now,
		})
	}
	s.buf.Add(samples...)
	return len(samples), nil
}

// authRoundTripper injects source credentials into every request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.SourceAuth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		header := t.auth.Header
		if header == "" {
			header = "x-api-key"
		}
		req.Header.Set(header, t.auth.Token())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition. A partial parse that
// produced some families counts as success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// aggregate reduces a family to one value. "sum" adds counter, gauge and
// untyped values across all label sets. "mean" divides the total
// histogram or summary sample sum by the total sample count. ok is false
// when the family holds nothing to aggregate.
func aggregate(mf *dto.MetricFamily, mode string) (v float64, ok bool) {
	if mode == "mean" {
		var sum float64
		var count uint64
		for _, m := range mf.GetMetric() {
			switch {
			case m.Histogram != nil:
				sum += m.Histogram.GetSampleSum()
				count += m.Histogram.GetSampleCount()
			case m.Summary != nil:
				sum += m.Summary.GetSampleSum()
				count += m.Summary.GetSampleCount()
			}
		}
		if count == 0 {
			return 0, false
		}
		return sum / float64(count), true
	}

	var total float64
	found := false
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		default:
			continue
		}
		found = true
	}
	return total, found
}
