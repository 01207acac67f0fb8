package index

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/retry"
)

func requireTransient(t *testing.T, err error) {
	t.Helper()
	require.True(t, retry.IsTransient(err), "expected a retryable error, got %v", err)
}

func TestUpsertSendsJSONLAndParsesResults(t *testing.T) {
	var gotPath, gotKey string
	var gotLines []Document

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotKey = r.Header.Get("X-TYPESENSE-API-KEY")
		scanner := bufio.NewScanner(r.Body)
		for scanner.Scan() {
			var d Document
			require.NoError(t, json.Unmarshal(scanner.Bytes(), &d))
			gotLines = append(gotLines, d)
		}
		for range gotLines {
			fmt.Fprintln(w, `{"success":true}`)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, APIKey: "secret", Collection: "news"}, zap.NewNop())
	require.NoError(t, err)

	docs := []Document{
		{ID: "a", UniqueID: "a", Agency: "mma", Title: "Primeira"},
		{ID: "b", UniqueID: "b", Agency: "mma", Title: "Segunda"},
	}
	results, err := c.Upsert(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Success)

	require.Equal(t, "/collections/news/documents/import?action=upsert", gotPath)
	require.Equal(t, "secret", gotKey)
	require.Len(t, gotLines, 2)
	require.Equal(t, "a", gotLines[0].ID)
}

func TestUpsertClassifiesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Upsert(context.Background(), []Document{{ID: "a"}})
	require.Error(t, err)
	// 5xx should be retried by callers.
	requireTransient(t, err)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	created := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections/news":
			http.NotFound(w, r)
		case r.Method == http.MethodPost && r.URL.Path == "/collections":
			created = true
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, APIKey: "secret"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, c.EnsureCollection(context.Background()))
	require.True(t, created)
}
