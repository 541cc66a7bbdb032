package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	neturl "net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// TikTokMaxBytes caps TikTok media at 100 MB.
	TikTokMaxBytes = 100 * 1024 * 1024

	mirrorTimeout = 8 * time.Second
	tikwmTimeout  = 10 * time.Second

	mirrorUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36"
)

var tikwmUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/107.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/96.0.4664.110 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/100.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.2 Safari/605.1.15",
}

var tiktokURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://(www\.|vt\.|vm\.)?tiktok\.com/.+$`),
	regexp.MustCompile(`^https?://(www\.)?tiktok\.com/@[\w.-]+/video/\d+`),
	regexp.MustCompile(`^https?://vt\.tiktok\.com/[\w.-]+`),
	regexp.MustCompile(`^https?://vm\.tiktok\.com/[\w.-]+`),
}

// IsTikTokURL reports whether the URL points at a TikTok video, including
// the vt/vm short-link domains.
func IsTikTokURL(url string) bool {
	for _, pattern := range tiktokURLPatterns {
		if pattern.MatchString(url) {
			return true
		}
	}
	return false
}

// CleanTikTokURL strips the query string and normalizes full links to
// origin+path. Short links pass through untouched so their redirect still
// resolves.
func CleanTikTokURL(url string) (string, error) {
	if idx := strings.Index(url, "?"); idx >= 0 {
		url = url[:idx]
	}

	if strings.Contains(url, "vt.tiktok.com") || strings.Contains(url, "vm.tiktok.com") {
		return url, nil
	}

	parsed, err := neturl.Parse(url)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("fetch: not an absolute url")
	}
	return parsed.Scheme + "://" + parsed.Host + parsed.Path, nil
}

// MirrorStrategy queries one third-party TikTok download API. Each mirror
// carries its own politeness limiter so a burst of commands cannot hammer a
// single upstream.
type MirrorStrategy struct {
	name      string
	endpoint  string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent func() string
	extract   func([]byte) (string, error)
}

func (s *MirrorStrategy) Name() string { return s.name }

func (s *MirrorStrategy) Resolve(ctx context.Context, url string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	endpoint := s.endpoint + "?url=" + neturl.QueryEscape(url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", s.userAgent())
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("mirror returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return s.extract(body)
}

type tikwmResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Play string `json:"play"`
	} `json:"data"`
}

type snaptikResponse struct {
	Data struct {
		URL string `json:"url"`
	} `json:"data"`
}

type tikmateResponse struct {
	Success bool `json:"success"`
	Data    struct {
		NoWatermark string `json:"no_watermark"`
	} `json:"data"`
}

type ssstikResponse struct {
	VideoURL string `json:"video_url"`
}

type tikdownResponse struct {
	VideoURL string `json:"videoUrl"`
}

// NewTikTokChain builds the ordered mirror chain. TikWM is the most reliable
// and goes first; the rest are fallbacks with shorter timeouts.
func NewTikTokChain() *Chain {
	staticUA := func() string { return mirrorUserAgent }
	rotatingUA := func() string { return tikwmUserAgents[rand.Intn(len(tikwmUserAgents))] }

	mirror := func(name, endpoint string, timeout time.Duration, ua func() string, extract func([]byte) (string, error)) *MirrorStrategy {
		return &MirrorStrategy{
			name:      name,
			endpoint:  endpoint,
			client:    defaultHTTPClient(timeout),
			limiter:   rate.NewLimiter(rate.Every(time.Second), 2),
			userAgent: ua,
			extract:   extract,
		}
	}

	return NewChain(
		mirror("tikwm", "https://tikwm.com/api/", tikwmTimeout, rotatingUA, func(b []byte) (string, error) {
			var r tikwmResponse
			if err := json.Unmarshal(b, &r); err != nil {
				return "", err
			}
			if r.Code != 0 {
				return "", fmt.Errorf("tikwm rejected request: %s", r.Message)
			}
			if r.Data.Play == "" {
				return "", errors.New("tikwm returned no play url")
			}
			return r.Data.Play, nil
		}),
		mirror("snaptik", "https://api.snaptik.guru/video", mirrorTimeout, staticUA, func(b []byte) (string, error) {
			var r snaptikResponse
			if err := json.Unmarshal(b, &r); err != nil {
				return "", err
			}
			if r.Data.URL == "" {
				return "", errors.New("snaptik returned no url")
			}
			return r.Data.URL, nil
		}),
		mirror("tikmate", "https://tikmateapp.io/api", mirrorTimeout, staticUA, func(b []byte) (string, error) {
			var r tikmateResponse
			if err := json.Unmarshal(b, &r); err != nil {
				return "", err
			}
			if !r.Success || r.Data.NoWatermark == "" {
				return "", errors.New("tikmate returned no watermark-free url")
			}
			return r.Data.NoWatermark, nil
		}),
		mirror("ssstik", "https://ssstik.io/api/v1/download", mirrorTimeout, staticUA, func(b []byte) (string, error) {
			var r ssstikResponse
			if err := json.Unmarshal(b, &r); err != nil {
				return "", err
			}
			if r.VideoURL == "" {
				return "", errors.New("ssstik returned no video url")
			}
			return r.VideoURL, nil
		}),
		mirror("tikdown", "https://tikdown.org/api", mirrorTimeout, staticUA, func(b []byte) (string, error) {
			var r tikdownResponse
			if err := json.Unmarshal(b, &r); err != nil {
				return "", err
			}
			if r.VideoURL == "" {
				return "", errors.New("tikdown returned no video url")
			}
			return r.VideoURL, nil
		}),
	)
}
