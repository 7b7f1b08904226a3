// Package reports downloads finished upstream reports and hands their
// contents to type-specific callbacks.
package reports

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"buybox-watcher/internal/storage"
)

// TypeSellerFeedback is the report type carrying the seller feedback rating.
const TypeSellerFeedback = "GET_SELLER_FEEDBACK_DATA"

// ResultFunc consumes one downloaded report body.
type ResultFunc func(ctx context.Context, report storage.Report, body []byte) error

// Downloader accepts finished reports for asynchronous download. Dispatch is
// fire-and-forget: failures are logged, never surfaced to the notification
// path that triggered them.
type Downloader interface {
	Dispatch(report storage.Report)
}

// HTTPDownloaderOptions parameterise the report document endpoint.
type HTTPDownloaderOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// HTTPDownloader fetches report documents over HTTP.
type HTTPDownloader struct {
	opts    HTTPDownloaderOptions
	client  *http.Client
	baseURL string
	logger  zerolog.Logger

	mu        sync.RWMutex
	callbacks map[string]ResultFunc
}

// NewHTTPDownloader constructs a downloader with no callbacks registered.
func NewHTTPDownloader(opts HTTPDownloaderOptions, logger zerolog.Logger) *HTTPDownloader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDownloader{
		opts:      opts,
		client:    &http.Client{Timeout: timeout},
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		logger:    logger.With().Str("component", "report_downloader").Logger(),
		callbacks: map[string]ResultFunc{},
	}
}

// Register binds a result callback to a report type.
func (d *HTTPDownloader) Register(reportType string, fn ResultFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callbacks[reportType] = fn
}

// Dispatch downloads the report in the background.
func (d *HTTPDownloader) Dispatch(report storage.Report) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := d.download(ctx, report); err != nil {
			d.logger.Error().Err(err).
				Str("report_id", report.ExternalReportID).
				Str("report_type", report.ReportType).
				Msg("report download failed")
		}
	}()
}

func (d *HTTPDownloader) download(ctx context.Context, report storage.Report) error {
	d.mu.RLock()
	callback, ok := d.callbacks[report.ReportType]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn().Str("report_type", report.ReportType).Msg("no callback registered for report type")
		return nil
	}

	if d.baseURL == "" {
		return fmt.Errorf("report base url not configured")
	}

	endpoint := fmt.Sprintf("%s/reports/%s/document", d.baseURL, report.ExternalReportID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report document error (%d)", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	return callback(ctx, report, body)
}

var _ Downloader = (*HTTPDownloader)(nil)
