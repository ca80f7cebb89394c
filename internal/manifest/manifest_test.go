package manifest

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

type fakeFetcher struct {
	resp     favicon.FetchResponse
	err      error
	requests []favicon.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req favicon.FetchRequest) (favicon.FetchResponse, error) {
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func TestIconURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fetcher *fakeFetcher
		want    string
		wantErr error
	}{
		{
			name: "first icon",
			fetcher: &fakeFetcher{resp: favicon.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`{"icons":[{"src":"/i/192.png","sizes":"192x192"},{"src":"/i/512.png"}]}`),
			}},
			want: "/i/192.png",
		},
		{
			name: "empty icons",
			fetcher: &fakeFetcher{resp: favicon.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`{"name":"app","icons":[]}`),
			}},
			want: "",
		},
		{
			name: "missing icons",
			fetcher: &fakeFetcher{resp: favicon.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`{"name":"app"}`),
			}},
			want: "",
		},
		{
			name: "invalid json",
			fetcher: &fakeFetcher{resp: favicon.FetchResponse{
				StatusCode: http.StatusOK,
				Body:       []byte(`<html>not a manifest</html>`),
			}},
			wantErr: favicon.ErrManifestInvalid,
		},
		{
			name:    "fetch failure",
			fetcher: &fakeFetcher{err: &favicon.FetchError{Method: "GET", URL: "x", StatusCode: 404}},
			wantErr: favicon.ErrFetchFailed,
		},
		{
			name: "non 200 success status",
			fetcher: &fakeFetcher{resp: favicon.FetchResponse{
				StatusCode: http.StatusNoContent,
			}},
			wantErr: favicon.ErrFetchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New(tt.fetcher, "", nil)
			got, err := r.IconURL(context.Background(), "https://example.com/manifest.json")
			if tt.wantErr != nil {
				require.Error(t, err)
				require.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestIconURLSendsDesktopUserAgent(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{resp: favicon.FetchResponse{StatusCode: http.StatusOK, Body: []byte(`{"icons":[]}`)}}
	_, err := New(f, "", nil).IconURL(context.Background(), "https://example.com/site.webmanifest")
	require.NoError(t, err)
	require.Len(t, f.requests, 1)
	require.Equal(t, http.MethodGet, f.requests[0].Method)
	require.Equal(t, DefaultUserAgent, f.requests[0].Headers.Get("User-Agent"))

	f.requests = nil
	_, err = New(f, "custom/1.0", nil).IconURL(context.Background(), "https://example.com/site.webmanifest")
	require.NoError(t, err)
	require.Equal(t, "custom/1.0", f.requests[0].Headers.Get("User-Agent"))
}

func TestDecodeKeepsIconMetadata(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"name":"x","icons":[{"src":"a.png","sizes":"48x48","type":"image/png"}]}`))
	require.NoError(t, err)
	require.Equal(t, []Icon{{Src: "a.png", Sizes: "48x48", Type: "image/png"}}, m.Icons)
}
