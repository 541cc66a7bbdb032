// Package fetch resolves social media share links to direct media URLs and
// downloads the media under size and time bounds. Resolution runs through an
// ordered chain of strategies; the first one to produce a URL wins.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aeonbot/aeon/pkg/log"
)

var (
	// ErrNoStrategy is returned when every strategy in the chain failed.
	ErrNoStrategy = errors.New("fetch: no strategy produced a media url")

	// ErrTooLarge is returned when the remote media exceeds the size cap.
	ErrTooLarge = errors.New("fetch: media exceeds size limit")
)

// Strategy resolves a share link to one or more direct media URLs.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, url string) (string, error)
}

// Chain tries strategies in order until one succeeds. Concurrent resolutions
// of the same URL are coalesced so mirror APIs see a single request.
type Chain struct {
	strategies []Strategy
	group      singleflight.Group
}

func NewChain(strategies ...Strategy) *Chain {
	return &Chain{strategies: strategies}
}

// Resolve walks the chain. Each strategy failure is logged and swallowed;
// only full-chain exhaustion surfaces as an error.
func (c *Chain) Resolve(ctx context.Context, url string) (string, error) {
	result, err, _ := c.group.Do(url, func() (interface{}, error) {
		for _, strategy := range c.strategies {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}

			mediaURL, err := strategy.Resolve(ctx, url)
			if err != nil {
				log.Print(nil).WithField("strategy", strategy.Name()).
					Warn("Media resolution strategy failed: ", err)
				continue
			}
			if mediaURL == "" {
				continue
			}

			log.Print(nil).WithField("strategy", strategy.Name()).
				Info("Media URL resolved")
			return mediaURL, nil
		}
		return "", ErrNoStrategy
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        8,
			IdleConnTimeout:     30 * time.Second,
			DisableCompression:  false,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
