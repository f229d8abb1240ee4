package remote

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eleven/artcache/internal/circuit"
	"github.com/eleven/artcache/pkg/errors"
	"github.com/eleven/artcache/pkg/retry"
	"github.com/eleven/artcache/pkg/types"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestResolver(t *testing.T, srv *httptest.Server, providers ...string) *Resolver {
	t.Helper()
	overrides := map[string]string{}
	for _, name := range []string{"deezer", "itunes", "musicbrainz", "lastfm", "coverartarchive"} {
		overrides[name] = srv.URL
	}
	r, err := NewResolver(Config{
		Providers: providers,
		Timeout:   2 * time.Second,
		BaseURLs:  overrides,
	})
	require.NoError(t, err)
	return r
}

func TestCleanTerm(t *testing.T) {
	assert.Equal(t, "Abbey Road", cleanTerm("  Abbey Road (Remastered) "))
	assert.Equal(t, "OK Computer", cleanTerm("OK Computer [OKNOTOK 1997 2017]"))
	assert.Equal(t, "The Beatles Abbey Road", searchTerm("The Beatles", "Abbey   Road"))
	assert.Equal(t, "", searchTerm("", ""))
}

func TestDeezer_Lookup(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("/search/album", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		fmt.Fprint(w, `{"data":[{"cover":"http://x/s.jpg","cover_big":"http://x/b.jpg","cover_xl":"http://x/xl.jpg"}]}`)
	})
	mux.HandleFunc("/search/artist", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"picture_big":"http://x/artist.jpg"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := &Deezer{BaseURL: srv.URL, http: newHTTPClient(time.Second, "test", nil)}
	ctx := context.Background()

	got, err := d.Lookup(ctx, "The Beatles", "Abbey Road (Remastered)", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Equal(t, "http://x/xl.jpg", got)
	assert.Equal(t, "The Beatles Abbey Road", gotQuery)

	got, err = d.Lookup(ctx, "The Beatles", "", types.ImageTypeArtist)
	require.NoError(t, err)
	assert.Equal(t, "http://x/artist.jpg", got)

	assert.False(t, d.Supports(types.ImageTypePlaylist))
}

func TestDeezer_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	d := &Deezer{BaseURL: srv.URL, http: newHTTPClient(time.Second, "", nil)}
	got, err := d.Lookup(context.Background(), "Nobody", "Nothing", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestITunes_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "album", r.URL.Query().Get("entity"))
		fmt.Fprint(w, `{"resultCount":1,"results":[{"artworkUrl100":"http://is1/abc/100x100bb.jpg"}]}`)
	}))
	defer srv.Close()

	i := &ITunes{BaseURL: srv.URL, http: newHTTPClient(time.Second, "", nil)}
	got, err := i.Lookup(context.Background(), "Radiohead", "OK Computer", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Equal(t, "http://is1/abc/600x600bb.jpg", got)
	assert.False(t, i.Supports(types.ImageTypeArtist))
}

func TestMusicBrainz_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		assert.Contains(t, q, `release:"Kid A"`)
		assert.Contains(t, q, `artist:"Radiohead"`)
		fmt.Fprint(w, `{"releases":[{"id":"b1a9c0e9"}]}`)
	}))
	defer srv.Close()

	m := &MusicBrainz{BaseURL: srv.URL, CoverArtBaseURL: "http://caa", http: newHTTPClient(time.Second, "", nil)}
	got, err := m.Lookup(context.Background(), "Radiohead", "Kid A", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Equal(t, "http://caa/release/b1a9c0e9/front-500", got)

	got, err = m.Lookup(context.Background(), "Radiohead", "", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLastFM_Lookup(t *testing.T) {
	page := `<html><head>
<meta property="og:title" content="Radiohead">
<meta property="og:image" content="%s">
</head><body></body></html>`

	want := "https://lastfm.freetls.fastly.net/i/u/ar0/real.jpg"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "Nobody") {
			fmt.Fprintf(w, page, "https://lastfm.freetls.fastly.net/i/u/ar0/"+lastFMPlaceholder+".png")
			return
		}
		fmt.Fprintf(w, page, want)
	}))
	defer srv.Close()

	l := &LastFM{BaseURL: srv.URL, http: newHTTPClient(time.Second, "", nil)}

	got, err := l.Lookup(context.Background(), "Radiohead", "", types.ImageTypeArtist)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = l.Lookup(context.Background(), "Nobody", "", types.ImageTypeArtist)
	require.NoError(t, err)
	assert.Empty(t, got, "placeholder image should count as no artwork")
}

func TestNewResolver_UnknownProvider(t *testing.T) {
	_, err := NewResolver(Config{Providers: []string{"deezer", "napster"}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestNewResolver_DefaultProviders(t *testing.T) {
	r, err := NewResolver(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultProviders, r.Providers())
}

func TestResolver_ProviderOrderWins(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/album", func(w http.ResponseWriter, r *http.Request) {
		// the first provider answers last but still wins
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"data":[{"cover_xl":"http://deezer/cover.jpg"}]}`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultCount":1,"results":[{"artworkUrl100":"http://itunes/100x100.jpg"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := newTestResolver(t, srv, "deezer", "itunes")
	got, err := r.ResolveImageURL(context.Background(), "A", "B", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Equal(t, "http://deezer/cover.jpg", got)
}

func TestResolver_FallsThroughEmptyProviders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/album", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultCount":1,"results":[{"artworkUrl100":"http://itunes/100x100.jpg"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r := newTestResolver(t, srv, "deezer", "itunes")
	got, err := r.ResolveImageURL(context.Background(), "A", "B", types.ImageTypeAlbum)
	require.NoError(t, err)
	assert.Equal(t, "http://itunes/600x600.jpg", got)
}

func TestResolver_UnavailableVersusFailure(t *testing.T) {
	t.Run("not found is no artwork", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer srv.Close()

		r := newTestResolver(t, srv, "deezer", "itunes")
		got, err := r.ResolveImageURL(context.Background(), "A", "B", types.ImageTypeAlbum)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("all providers failing is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := newTestResolver(t, srv, "deezer", "itunes")
		_, err := r.ResolveImageURL(context.Background(), "A", "B", types.ImageTypeAlbum)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrCodeProviderFailure))
	})
}

func TestResolver_NoProviderForType(t *testing.T) {
	r, err := NewResolver(Config{Providers: []string{"itunes"}})
	require.NoError(t, err)

	got, err := r.ResolveImageURL(context.Background(), "A", "", types.ImageTypeArtist)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolver_OfflineGate(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	r, err := NewResolver(Config{
		Providers: []string{"deezer"},
		BaseURLs:  map[string]string{"deezer": srv.URL},
		Gate:      circuit.NewGate(circuit.Config{}, true),
	})
	require.NoError(t, err)

	_, err = r.ResolveImageURL(context.Background(), "A", "B", types.ImageTypeAlbum)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNetworkError))

	_, err = r.Download(context.Background(), srv.URL+"/img.png")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}

type recordingObserver struct {
	mu      sync.Mutex
	results map[string]string
}

func (o *recordingObserver) ObserveLookup(provider, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[provider] = result
}

func TestResolver_Observer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/album", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"cover_xl":"http://deezer/cover.jpg"}]}`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"resultCount":0,"results":[]}`)
	})
	mux.HandleFunc("/ws/2/release/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	obs := &recordingObserver{results: map[string]string{}}
	r, err := NewResolver(Config{
		Providers: []string{"deezer", "itunes", "musicbrainz"},
		BaseURLs:  map[string]string{"deezer": srv.URL, "itunes": srv.URL, "musicbrainz": srv.URL},
		Observer:  obs,
	})
	require.NoError(t, err)

	_, err = r.ResolveImageURL(context.Background(), "A", "B", types.ImageTypeAlbum)
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, map[string]string{
		"deezer":      ResultHit,
		"itunes":      ResultMiss,
		"musicbrainz": ResultError,
	}, obs.results)
}

func TestResolver_Download(t *testing.T) {
	img := pngBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(img)
	})
	mux.HandleFunc("/page.html", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>not an image</body></html>")
	})
	mux.HandleFunc("/huge.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte{0x89}, 4096))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := NewResolver(Config{Providers: []string{"deezer"}, MaxImageSize: 1024})
	require.NoError(t, err)
	ctx := context.Background()

	data, err := r.Download(ctx, srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, img, data)

	_, err = r.Download(ctx, srv.URL+"/page.html")
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotAnImage), "got %v", err)

	_, err = r.Download(ctx, srv.URL+"/huge.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeArtTooLarge), "got %v", err)

	_, err = r.Download(ctx, srv.URL+"/missing.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeArtUnavailable), "got %v", err)

	_, err = r.Download(ctx, "ftp://example.com/a.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeProviderFailure))

	_, err = r.Download(ctx, "s3://bucket/a.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeProviderFailure), "s3 is disabled without a source")
}

func TestResolver_DownloadRetriesDroppedConnections(t *testing.T) {
	img := pngBytes(t)
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		w.Write(img)
	}))
	defer srv.Close()

	cfg := retry.DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.Jitter = false
	r, err := NewResolver(Config{Providers: []string{"deezer"}, Retry: retry.New(cfg)})
	require.NoError(t, err)

	data, err := r.Download(context.Background(), srv.URL+"/flaky.png")
	require.NoError(t, err)
	assert.Equal(t, img, data)
	assert.Equal(t, 2, calls)
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func TestS3Source(t *testing.T) {
	img := pngBytes(t)
	src := newS3Source(&fakeS3{objects: map[string][]byte{
		"art/albums/abbey.png": img,
	}}, nil, nil)

	r, err := NewResolver(Config{Providers: []string{"deezer"}, S3: src})
	require.NoError(t, err)
	ctx := context.Background()

	data, err := r.Download(ctx, "s3://art/albums/abbey.png")
	require.NoError(t, err)
	assert.Equal(t, img, data)

	_, err = r.Download(ctx, "s3://art/albums/missing.png")
	assert.True(t, errors.IsCode(err, errors.ErrCodeArtUnavailable), "got %v", err)

	_, err = src.Fetch(ctx, "s3://art/albums/abbey.png", 8)
	assert.True(t, errors.IsCode(err, errors.ErrCodeArtTooLarge), "got %v", err)
}

func TestParseS3URL(t *testing.T) {
	tests := []struct {
		in      string
		bucket  string
		key     string
		wantErr bool
	}{
		{in: "s3://art/a/b.png", bucket: "art", key: "a/b.png"},
		{in: "s3://art/", wantErr: true},
		{in: "s3:///key.png", wantErr: true},
		{in: "http://art/key.png", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			bucket, key, err := parseS3URL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}
