package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/docbreak/internal/models"
	"github.com/ajitpratap0/docbreak/internal/store"
)

const page = `<!DOCTYPE html>
<html><head><title>t</title><style>p { color: red }</style></head>
<body>
  <nav><p>Home | About</p></nav>
  <article>
    <h1>The   Treaty</h1>
    <p>The treaty was
       signed in 1848.</p>
    <script>track()</script>
    <ul><li><p>First point</p></li><li>Second point</li></ul>
  </article>
  <footer><p>Copyright</p></footer>
</body></html>`

func TestHTMLExtractor_MainContentParagraphs(t *testing.T) {
	text, err := HTMLExtractor{}.Extract(page)
	require.NoError(t, err)
	assert.Equal(t, "The Treaty\n\nThe treaty was signed in 1848.\n\nFirst point\n\nSecond point", text)
}

func TestHTMLExtractor_FallsBackToBody(t *testing.T) {
	text, err := HTMLExtractor{}.Extract("<html><body><div>Just   some text</div></body></html>")
	require.NoError(t, err)
	assert.Equal(t, "Just some text", text)
}

func TestHTMLExtractor_PlainTextPassesThrough(t *testing.T) {
	plain := "First paragraph.\n\nSecond paragraph."
	text, err := HTMLExtractor{}.Extract("  " + plain + "\n")
	require.NoError(t, err)
	assert.Equal(t, plain, text)
}

func newSiteServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			if r.Header.Get("User-Agent") != "docbreak-test" {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(page))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestService_CreateRecordsFetch(t *testing.T) {
	srv := newSiteServer(t)
	st := store.NewMockStore()
	svc := NewService(st, NewFetcher(time.Second, "docbreak-test", nil), nil, nil)
	ctx := context.Background()

	src, err := svc.Create(ctx, srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, src.HTTPCode)
	assert.True(t, src.Available())
	assert.NotEmpty(t, src.ID)

	stored, err := svc.Get(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, page, stored.Content)

	text, err := svc.Text(stored)
	require.NoError(t, err)
	assert.Contains(t, text, "signed in 1848.")
}

func TestService_UnavailableSources(t *testing.T) {
	srv := newSiteServer(t)
	st := store.NewMockStore()
	svc := NewService(st, NewFetcher(50*time.Millisecond, "docbreak-test", nil), nil, nil)
	ctx := context.Background()

	missing, err := svc.Create(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing.HTTPCode)
	_, err = svc.Text(missing)
	assert.ErrorIs(t, err, ErrContentUnavailable)

	slow, err := svc.Create(ctx, srv.URL+"/slow")
	require.NoError(t, err)
	assert.Equal(t, 0, slow.HTTPCode, "transport failure records status 0")
	_, err = svc.Text(slow)
	assert.ErrorIs(t, err, ErrContentUnavailable)

	list, err := svc.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestService_CreateRejectsBadURL(t *testing.T) {
	svc := NewService(store.NewMockStore(), NewFetcher(0, "", nil), nil, nil)
	for _, u := range []string{"", "ftp://example.com/x", "/relative", "http://"} {
		_, err := svc.Create(context.Background(), u)
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestService_Delete(t *testing.T) {
	st := store.NewMockStore()
	require.NoError(t, st.UpsertSource(context.Background(), models.Source{ID: "s", URL: "https://x"}))
	svc := NewService(st, NewFetcher(0, "", nil), nil, nil)

	require.NoError(t, svc.Delete(context.Background(), "s"))
	assert.ErrorIs(t, svc.Delete(context.Background(), "s"), store.ErrNotFound)
}

func TestFetcher_TruncatesOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte("0123456789"))
			return
		}
		_, _ = w.Write([]byte("01234567"))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(time.Second, "docbreak-test", nil)
	f.maxBytes = 8

	got, err := f.Fetch(context.Background(), srv.URL+"/big")
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	assert.Equal(t, "01234567", got.Body)

	got, err = f.Fetch(context.Background(), srv.URL+"/exact")
	require.NoError(t, err)
	assert.False(t, got.Truncated, "a body exactly at the cap is whole")
	assert.Equal(t, "01234567", got.Body)
}
