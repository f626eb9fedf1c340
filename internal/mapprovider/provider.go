// Package mapprovider abstracts the external panoramic map vendor: a REST
// metadata endpoint, a tile-session REST endpoint, and a browser-executed
// JS SDK call for neighbor links. It owns the two concurrency semaphores
// (panoramaSlots, tileSlots) that bound load against the vendor.
package mapprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/jcom-dev/vlnbench/internal/apierr"
	"github.com/jcom-dev/vlnbench/internal/metrics"
	"github.com/jcom-dev/vlnbench/internal/models"
)

// TileSize is the vendor's nominal tile edge length in pixels.
const TileSize = 512

// Config controls the provider's endpoints, retries and concurrency.
type Config struct {
	APIKey          string
	PanoramaSlots   int
	TileSlots       int
	BrowserWorkers  int
	MaxRetries      int
	RequestTimeout  time.Duration
	TokenRefreshBuf time.Duration
	MetadataURL     string // overridable in tests
	TileSessionURL  string
	TileBaseURL     string
}

// Provider is the MapProvider component.
type Provider struct {
	cfg Config

	httpClient *http.Client
	browsers   *browserPool

	// PanoramaSlots bounds concurrent panorama builds in flight; acquired
	// by PanoramaRepository/TileFetcher around a full getImage build.
	PanoramaSlots *semaphore.Weighted
	tileSlots     *semaphore.Weighted

	tokenMu     sync.Mutex
	token       string
	tokenExpiry time.Time
}

// New constructs a Provider and its browser pool (not yet warmed; warmup
// runs lazily on first fetchLinks call).
func New(cfg Config) *Provider {
	if cfg.PanoramaSlots < 1 {
		cfg.PanoramaSlots = 4
	}
	if cfg.TileSlots < 1 {
		cfg.TileSlots = 4
	}
	if cfg.BrowserWorkers < 1 {
		cfg.BrowserWorkers = 4
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.TokenRefreshBuf == 0 {
		cfg.TokenRefreshBuf = 30 * time.Second
	}
	if cfg.MetadataURL == "" {
		cfg.MetadataURL = "https://maps.googleapis.com/maps/api/streetview/metadata"
	}
	if cfg.TileSessionURL == "" {
		cfg.TileSessionURL = "https://tile.googleapis.com/v1/createSession"
	}
	if cfg.TileBaseURL == "" {
		cfg.TileBaseURL = "https://tile.googleapis.com/v1/streetview/tiles"
	}

	return &Provider{
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		browsers:      newBrowserPool(cfg.BrowserWorkers),
		PanoramaSlots: semaphore.NewWeighted(int64(cfg.PanoramaSlots)),
		tileSlots:     semaphore.NewWeighted(int64(cfg.TileSlots)),
	}
}

// Shutdown releases the browser pool's resources.
func (p *Provider) Shutdown() {
	p.browsers.shutdown()
}

func retryableHTTP(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *httpStatusError
	if asHTTPStatusError(err, &statusErr) {
		return statusErr.code == 429 || statusErr.code >= 500
	}
	return true // network-level errors (timeouts, resets) are retried
}

type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.code, e.body)
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	if se, ok := err.(*httpStatusError); ok {
		*target = se
		return true
	}
	return false
}

type metadataResponse struct {
	Status      string  `json:"status"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Date        string  `json:"date"`
	PanoID      string  `json:"pano_id"`
}

// FetchBasicMetadata retrieves {lat,lng,captureDate} over REST with bounded
// exponential backoff on 5xx and transient network errors.
func (p *Provider) FetchBasicMetadata(ctx context.Context, panoID string) (*models.PanoramaMetadata, error) {
	var out metadataResponse
	err := withBackoff(ctx, p.cfg.MaxRetries, retryableHTTP, func() error {
		url := fmt.Sprintf("%s?pano=%s&key=%s", p.cfg.MetadataURL, panoID, p.cfg.APIKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{code: resp.StatusCode, body: string(body)}
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return err
		}
		if out.Status != "" && out.Status != "OK" {
			return fmt.Errorf("metadata status %s for pano %s", out.Status, panoID)
		}
		return nil
	})
	if err != nil {
		return nil, apierr.Unavailablef(err, "fetch metadata for %s", panoID)
	}

	return &models.PanoramaMetadata{
		PanoID:      panoID,
		Lat:         out.Lat,
		Lng:         out.Lng,
		CaptureDate: out.Date,
	}, nil
}

type jsLink struct {
	TargetPanoID string  `json:"targetPanoId"`
	Heading      float64 `json:"heading"`
}

type jsLinksResult struct {
	Links         []jsLink `json:"links"`
	CenterHeading float64  `json:"centerHeading"`
}

// FetchLinks runs a templated script against the vendor's JS SDK inside a
// pooled headless browser to obtain neighbor links and centerHeading, which
// are not exposed by the plain REST metadata endpoint.
func (p *Provider) FetchLinks(ctx context.Context, panoID string) ([]models.Link, float64, error) {
	var result jsLinksResult

	err := withBackoff(ctx, p.cfg.MaxRetries, func(error) bool { return true }, func() error {
		browserCtx, release, err := p.browsers.acquire(ctx, p.cfg.RequestTimeout)
		if err != nil {
			return err
		}
		defer release()

		script := fmt.Sprintf(panoLinksScript, panoID, p.cfg.APIKey)
		var raw string
		runErr := chromedp.Run(browserCtx,
			chromedp.Navigate("about:blank"),
			chromedp.Evaluate(script, &raw),
		)
		if runErr != nil {
			if isCrashErr(runErr) {
				p.browsers.restart()
			}
			return runErr
		}
		return json.Unmarshal([]byte(raw), &result)
	})
	if err != nil {
		return nil, 0, apierr.Unavailablef(err, "fetch links for %s", panoID)
	}

	links := make([]models.Link, 0, len(result.Links))
	for _, l := range result.Links {
		links = append(links, models.Link{TargetPanoID: l.TargetPanoID, Heading: l.Heading})
	}
	return links, result.CenterHeading, nil
}

// panoLinksScript is evaluated in-page against the loaded Street View JS
// SDK; it is a template, not literal production JS served anywhere.
const panoLinksScript = `
(function() {
  return new Promise(function(resolve) {
    var svc = new google.maps.StreetViewService();
    svc.getPanorama({pano: %q, key: %q}, function(data, status) {
      if (status !== 'OK') { resolve(JSON.stringify({links: [], centerHeading: 0})); return; }
      var links = (data.links || []).map(function(l) {
        return {targetPanoId: l.pano, heading: l.heading};
      });
      resolve(JSON.stringify({links: links, centerHeading: data.tiles.centerHeading || 0}));
    });
  });
})()
`

// ensureTileSession performs the session-token dance, refreshing when
// within the configured safety buffer of expiry.
func (p *Provider) ensureTileSession(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.token != "" && time.Until(p.tokenExpiry) > p.cfg.TokenRefreshBuf {
		return p.token, nil
	}

	var resp struct {
		Session   string `json:"session"`
		ExpiresIn string `json:"expiry"`
	}
	err := withBackoff(ctx, p.cfg.MaxRetries, retryableHTTP, func() error {
		reqBody, _ := json.Marshal(map[string]string{"mapType": "streetview"})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TileSessionURL+"?key="+p.cfg.APIKey, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		httpResp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()
		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return err
		}
		if httpResp.StatusCode != http.StatusOK {
			return &httpStatusError{code: httpResp.StatusCode, body: string(body)}
		}
		return json.Unmarshal(body, &resp)
	})
	if err != nil {
		return "", apierr.Unavailablef(err, "create tile session")
	}

	p.token = resp.Session
	ttlSeconds, parseErr := strconv.Atoi(resp.ExpiresIn)
	if parseErr != nil || ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	p.tokenExpiry = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	slog.Debug("tile session refreshed", "expires_in_s", ttlSeconds)
	return p.token, nil
}

// FetchTile fetches one raster tile, acquiring a tileSlots permit for the
// duration of the call. 429/503 trigger the shared backoff helper.
func (p *Provider) FetchTile(ctx context.Context, panoID string, zoom, x, y int) ([]byte, error) {
	if err := p.tileSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.tileSlots.Release(1)

	start := time.Now()
	defer func() { metrics.TileFetchDuration.Observe(time.Since(start).Seconds()) }()

	var data []byte
	err := withBackoff(ctx, p.cfg.MaxRetries, retryableHTTP, func() error {
		token, err := p.ensureTileSession(ctx)
		if err != nil {
			return err
		}

		url := fmt.Sprintf("%s?session=%s&key=%s&panoId=%s&zoom=%d&x=%d&y=%d",
			p.cfg.TileBaseURL, token, p.cfg.APIKey, panoID, zoom, x, y)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &httpStatusError{code: resp.StatusCode, body: string(body)}
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, apierr.Unavailablef(err, "fetch tile %s z%d (%d,%d)", panoID, zoom, x, y)
	}
	return data, nil
}
