package news

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/flowhook/flowhook-api/internal/capability"
	"github.com/flowhook/flowhook-api/internal/engine"
)

const defaultArticlesURL = "https://eventregistry.org/api/v1/article/getArticles"

// TopArticle triggers when the top news article for a keyword changes.
// Detection is edge-based: the last reported article URL is remembered per
// binding, so the same headline fires a single event across sweeps. No user
// credential is involved; the API key is server configuration.
type TopArticle struct {
	apiKey string
	apiURL string
	client *http.Client

	mu      sync.Mutex
	lastURL map[string]string // binding id -> last reported article url
}

func NewTopArticle(apiKey string) *TopArticle {
	return &TopArticle{
		apiKey:  apiKey,
		apiURL:  defaultArticlesURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		lastURL: make(map[string]string),
	}
}

func (t *TopArticle) Key() capability.Key {
	return capability.Key{Provider: "news", Name: "top_article"}
}

func (t *TopArticle) Params() []capability.ParamSpec {
	return []capability.ParamSpec{
		{Name: "keyword", Type: capability.ParamString, Default: "technologie"},
	}
}

type articlesResponse struct {
	Articles struct {
		Results []struct {
			Title  string `json:"title"`
			Body   string `json:"body"`
			URL    string `json:"url"`
			Source struct {
				Title string `json:"title"`
			} `json:"source"`
		} `json:"results"`
	} `json:"articles"`
}

func (t *TopArticle) Check(ctx context.Context, inv *capability.Invocation) (capability.TriggerResult, error) {
	if t.apiKey == "" {
		return capability.TriggerResult{}, engine.Ef(engine.KindValidation, "news api key is not configured")
	}
	keyword := capability.OptionalStringParam(inv.Params, "keyword")

	body, err := json.Marshal(map[string]any{
		"action":                 "getArticles",
		"keyword":                keyword,
		"articlesPage":           1,
		"articlesCount":          1,
		"articlesSortBy":         "date",
		"articlesSortByAsc":      false,
		"dataType":               []string{"news"},
		"forceMaxDataTimeWindow": 31,
		"resultType":             "articles",
		"apiKey":                 t.apiKey,
	})
	if err != nil {
		return capability.TriggerResult{}, errors.Wrap(err, "encode articles request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL, bytes.NewReader(body))
	if err != nil {
		return capability.TriggerResult{}, errors.Wrap(err, "build articles request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindTransientProvider, err, "news api unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capability.TriggerResult{}, engine.Ef(engine.KindTransientProvider, "news api returned %d", resp.StatusCode)
	}

	var payload articlesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return capability.TriggerResult{}, engine.Wrap(engine.KindTransientProvider, err, "decode news response")
	}

	if len(payload.Articles.Results) == 0 {
		return capability.TriggerResult{Triggered: false}, nil
	}

	article := payload.Articles.Results[0]
	if !t.remember(inv.BindingID, article.URL) {
		return capability.TriggerResult{Triggered: false}, nil
	}

	return capability.TriggerResult{
		Triggered: true,
		Output: map[string]any{
			"title":       article.Title,
			"description": article.Body,
			"url":         article.URL,
			"source":      article.Source.Title,
			"keyword":     keyword,
		},
	}, nil
}

// remember records the article url for a binding and reports whether it is new.
func (t *TopArticle) remember(bindingID, articleURL string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastURL[bindingID] == articleURL {
		return false
	}
	t.lastURL[bindingID] = articleURL
	return true
}
