package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	name  string
	url   string
	err   error
	calls int32
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Resolve(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.url, s.err
}

func TestChainFirstSuccessWins(t *testing.T) {
	first := &fakeStrategy{name: "a", url: "https://cdn.example.com/a.mp4"}
	second := &fakeStrategy{name: "b", url: "https://cdn.example.com/b.mp4"}
	chain := NewChain(first, second)

	got, err := chain.Resolve(context.Background(), "https://example.com/share")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a.mp4", got)
	assert.Zero(t, atomic.LoadInt32(&second.calls))
}

func TestChainFallsThroughFailures(t *testing.T) {
	broken := &fakeStrategy{name: "a", err: errors.New("upstream down")}
	empty := &fakeStrategy{name: "b"}
	working := &fakeStrategy{name: "c", url: "https://cdn.example.com/c.mp4"}
	chain := NewChain(broken, empty, working)

	got, err := chain.Resolve(context.Background(), "https://example.com/share")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/c.mp4", got)
}

func TestChainExhausted(t *testing.T) {
	chain := NewChain(&fakeStrategy{name: "a", err: errors.New("nope")})

	_, err := chain.Resolve(context.Background(), "https://example.com/share")
	assert.ErrorIs(t, err, ErrNoStrategy)
}

func TestChainCoalescesConcurrentResolves(t *testing.T) {
	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var calls int32
	chain := NewChain(&blockingStrategy{entered: entered, release: release, calls: &calls})

	var wg sync.WaitGroup
	started := make(chan struct{}, 8)
	resolve := func() {
		defer wg.Done()
		started <- struct{}{}
		got, err := chain.Resolve(context.Background(), "https://example.com/same")
		assert.NoError(t, err)
		assert.Equal(t, "https://cdn.example.com/x.mp4", got)
	}

	// park the first caller inside the strategy, then pile the rest on
	// while its flight is still open
	wg.Add(1)
	go resolve()
	<-started
	<-entered

	for i := 0; i < 7; i++ {
		wg.Add(1)
		go resolve()
	}
	for i := 0; i < 7; i++ {
		<-started
	}
	// followers are past the barrier; give them a beat to join the flight
	time.Sleep(50 * time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type blockingStrategy struct {
	entered chan struct{}
	release chan struct{}
	calls   *int32
}

func (s *blockingStrategy) Name() string { return "blocking" }

func (s *blockingStrategy) Resolve(_ context.Context, _ string) (string, error) {
	atomic.AddInt32(s.calls, 1)
	s.entered <- struct{}{}
	<-s.release
	return "https://cdn.example.com/x.mp4", nil
}

func TestDownloaderRespectsByteCeiling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	d := NewDownloader(1024)
	_, err := d.Download(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestDownloaderAcceptsExactLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	d := NewDownloader(1024)
	data, err := d.Download(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, data, 1024)
}

func TestDownloaderRetriesTransientFailure(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("video-bytes"))
	}))
	defer server.Close()

	d := NewDownloader(1 << 20)
	data, err := d.Download(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, []byte("video-bytes"), data)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestDownloaderSizeViolationIsTerminal(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(make([]byte, 4096))
	}))
	defer server.Close()

	d := NewDownloader(1024)
	_, err := d.Download(context.Background(), server.URL)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "oversize media must not be re-fetched")
}

func TestIsInstagramURL(t *testing.T) {
	valid := []string{
		"https://instagram.com/reel/ABC123/",
		"https://www.instagram.com/p/Xy_z-9/",
		"https://instagram.com/tv/DEF456",
		"https://www.instagram.com/some.user/reel/GHI789/",
	}
	for _, url := range valid {
		assert.True(t, IsInstagramURL(url), url)
	}

	invalid := []string{
		"https://instagram.com/someuser/",
		"https://example.com/p/ABC123/",
		"not a url",
	}
	for _, url := range invalid {
		assert.False(t, IsInstagramURL(url), url)
	}
}

func TestIsTikTokURL(t *testing.T) {
	valid := []string{
		"https://www.tiktok.com/@user/video/1234567890",
		"https://vt.tiktok.com/ZS8abc123/",
		"https://vm.tiktok.com/XYZ789/",
	}
	for _, url := range valid {
		assert.True(t, IsTikTokURL(url), url)
	}

	assert.False(t, IsTikTokURL("https://example.com/@user/video/123"))
	assert.False(t, IsTikTokURL("tiktok.com/@user/video/123"))
}

func TestCleanTikTokURL(t *testing.T) {
	got, err := CleanTikTokURL("https://www.tiktok.com/@user/video/123?is_from_webapp=1&sender_device=pc")
	require.NoError(t, err)
	assert.Equal(t, "https://www.tiktok.com/@user/video/123", got)

	got, err = CleanTikTokURL("https://vt.tiktok.com/ZS8abc123/?k=1")
	require.NoError(t, err)
	assert.Equal(t, "https://vt.tiktok.com/ZS8abc123/", got)

	_, err = CleanTikTokURL("://bad")
	assert.Error(t, err)
}

func TestMirrorStrategyParsesResponses(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"tikwm", `{"code":0,"data":{"play":"https://cdn.tikwm.com/v.mp4"}}`, "https://cdn.tikwm.com/v.mp4"},
		{"snaptik", `{"data":{"url":"https://cdn.snaptik.guru/v.mp4"}}`, "https://cdn.snaptik.guru/v.mp4"},
		{"tikmate", `{"success":true,"data":{"no_watermark":"https://cdn.tikmate.io/v.mp4"}}`, "https://cdn.tikmate.io/v.mp4"},
		{"ssstik", `{"video_url":"https://cdn.ssstik.io/v.mp4"}`, "https://cdn.ssstik.io/v.mp4"},
		{"tikdown", `{"videoUrl":"https://cdn.tikdown.org/v.mp4"}`, "https://cdn.tikdown.org/v.mp4"},
	}

	chain := NewTikTokChain()
	for i, tc := range cases {
		strategy := chain.strategies[i].(*MirrorStrategy)
		require.Equal(t, tc.name, strategy.Name())

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "https://www.tiktok.com/@u/video/1", r.URL.Query().Get("url"))
			w.Write([]byte(tc.body))
		}))

		strategy.endpoint = server.URL
		got, err := strategy.Resolve(context.Background(), "https://www.tiktok.com/@u/video/1")
		server.Close()

		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestMirrorStrategyRejectsFailurePayloads(t *testing.T) {
	chain := NewTikTokChain()
	tikwm := chain.strategies[0].(*MirrorStrategy)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":-1,"message":"url invalid"}`))
	}))
	defer server.Close()

	tikwm.endpoint = server.URL
	_, err := tikwm.Resolve(context.Background(), "https://www.tiktok.com/@u/video/1")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "url invalid"))
}

func TestLooksLikeVideo(t *testing.T) {
	assert.True(t, LooksLikeVideo("https://cdn.example.com/media.mp4?sig=1"))
	assert.True(t, LooksLikeVideo("https://cdn.example.com/video/123"))
	assert.False(t, LooksLikeVideo("https://cdn.example.com/photo.jpg"))
}
