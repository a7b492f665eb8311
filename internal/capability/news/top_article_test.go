package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

func articlesBody(title, articleURL string) string {
	return fmt.Sprintf(`{"articles":{"results":[{"title":%q,"body":"summary","url":%q,"source":{"title":"Example Press"}}]}}`,
		title, articleURL)
}

func newTopArticleEnv(t *testing.T, handler http.HandlerFunc) *TopArticle {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	trigger := NewTopArticle("test-key")
	trigger.apiURL = server.URL
	return trigger
}

func invocation() *capability.Invocation {
	return &capability.Invocation{
		BindingID: "tb-1",
		Params:    map[string]any{"keyword": "technologie"},
	}
}

func TestTopArticle_FiresOnNewArticle(t *testing.T) {
	var requested struct {
		Keyword string `json:"keyword"`
		APIKey  string `json:"apiKey"`
	}
	trigger := newTopArticleEnv(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&requested))
		fmt.Fprint(w, articlesBody("New Chips", "https://news.example/chips"))
	})

	result, err := trigger.Check(context.Background(), invocation())
	require.NoError(t, err)
	assert.True(t, result.Triggered)
	assert.Equal(t, "New Chips", result.Output["title"])
	assert.Equal(t, "https://news.example/chips", result.Output["url"])
	assert.Equal(t, "Example Press", result.Output["source"])
	assert.Equal(t, "technologie", result.Output["keyword"])

	assert.Equal(t, "technologie", requested.Keyword)
	assert.Equal(t, "test-key", requested.APIKey)
}

func TestTopArticle_SameArticleFiresOnce(t *testing.T) {
	trigger := newTopArticleEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articlesBody("New Chips", "https://news.example/chips"))
	})

	first, err := trigger.Check(context.Background(), invocation())
	require.NoError(t, err)
	require.True(t, first.Triggered)

	second, err := trigger.Check(context.Background(), invocation())
	require.NoError(t, err)
	assert.False(t, second.Triggered, "an unchanged top article fires a single event")
}

func TestTopArticle_FiresAgainWhenArticleChanges(t *testing.T) {
	var calls atomic.Int64
	trigger := newTopArticleEnv(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			fmt.Fprint(w, articlesBody("New Chips", "https://news.example/chips"))
			return
		}
		fmt.Fprint(w, articlesBody("Chips Recalled", "https://news.example/recall"))
	})

	first, err := trigger.Check(context.Background(), invocation())
	require.NoError(t, err)
	require.True(t, first.Triggered)

	second, err := trigger.Check(context.Background(), invocation())
	require.NoError(t, err)
	assert.True(t, second.Triggered)
	assert.Equal(t, "Chips Recalled", second.Output["title"])
}

func TestTopArticle_NoResultsDoesNotFire(t *testing.T) {
	trigger := newTopArticleEnv(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"articles":{"results":[]}}`)
	})

	result, err := trigger.Check(context.Background(), invocation())
	require.NoError(t, err)
	assert.False(t, result.Triggered)
}

func TestTopArticle_ServerErrorIsTransient(t *testing.T) {
	trigger := newTopArticleEnv(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := trigger.Check(context.Background(), invocation())
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindTransientProvider))
}

func TestTopArticle_MissingAPIKeyIsValidation(t *testing.T) {
	trigger := NewTopArticle("")

	_, err := trigger.Check(context.Background(), invocation())
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindValidation))
}
