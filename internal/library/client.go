package library

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/services"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultSearchLimit = 25
)

// Item is one library entry returned by a search.
type Item struct {
	ID     string
	Title  string
	Author string
	ASIN   string
	Path   string
}

// Searcher is the read surface the scan processor depends on.
type Searcher interface {
	SearchItems(ctx context.Context, libraryID, query string) ([]Item, error)
	ScanLibrary(ctx context.Context, libraryID string, force bool) error
}

// HTTPDoer describes the HTTP client used by the library client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to an Audiobookshelf server.
type Client struct {
	baseURL string
	token   string
	client  HTTPDoer
}

// NewClient builds a client from configuration. It returns nil when the
// library integration is disabled or incomplete.
func NewClient(cfg config.Library) *Client {
	if !cfg.Enabled || strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return NewHTTPClient(cfg.URL, cfg.APIKey, &http.Client{Timeout: timeout})
}

// NewHTTPClient constructs a client against baseURL.
func NewHTTPClient(baseURL, token string, client HTTPDoer) *Client {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  client,
	}
}

type searchResponse struct {
	Book []struct {
		LibraryItem libraryItem `json:"libraryItem"`
	} `json:"book"`
}

type libraryItem struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Media struct {
		Metadata struct {
			Title      string `json:"title"`
			AuthorName string `json:"authorName"`
			ASIN       string `json:"asin"`
			Authors    []struct {
				Name string `json:"name"`
			} `json:"authors"`
		} `json:"metadata"`
	} `json:"media"`
}

func (li libraryItem) toItem() Item {
	meta := li.Media.Metadata
	author := strings.TrimSpace(meta.AuthorName)
	if author == "" && len(meta.Authors) > 0 {
		names := make([]string, 0, len(meta.Authors))
		for _, a := range meta.Authors {
			names = append(names, a.Name)
		}
		author = strings.Join(names, ", ")
	}
	return Item{
		ID:     li.ID,
		Title:  strings.TrimSpace(meta.Title),
		Author: author,
		ASIN:   strings.TrimSpace(meta.ASIN),
		Path:   li.Path,
	}
}

// SearchItems runs a title search in one library.
func (c *Client) SearchItems(ctx context.Context, libraryID, query string) ([]Item, error) {
	params := url.Values{}
	params.Set("q", strings.TrimSpace(query))
	params.Set("limit", strconv.Itoa(defaultSearchLimit))
	endpoint := fmt.Sprintf("%s/api/libraries/%s/search?%s", c.baseURL, url.PathEscape(libraryID), params.Encode())

	var payload searchResponse
	if err := c.do(ctx, http.MethodGet, endpoint, "search", &payload); err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(payload.Book))
	for _, entry := range payload.Book {
		items = append(items, entry.LibraryItem.toItem())
	}
	return items, nil
}

// ScanLibrary asks the server to rescan a library folder.
func (c *Client) ScanLibrary(ctx context.Context, libraryID string, force bool) error {
	endpoint := fmt.Sprintf("%s/api/libraries/%s/scan", c.baseURL, url.PathEscape(libraryID))
	if force {
		endpoint += "?force=1"
	}
	return c.do(ctx, http.MethodPost, endpoint, "scan", nil)
}

// Ping verifies the server is reachable and the token is accepted.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.baseURL+"/api/me", "ping", nil)
}

func (c *Client) do(ctx context.Context, method, endpoint, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "library", operation, "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "library", operation, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrAuthentication, "library", operation,
			fmt.Sprintf("audiobookshelf returned %d; check library.api_key", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "library", operation, "library not found; check library.library_id", nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return services.Wrap(services.ErrTransient, "library", operation,
			fmt.Sprintf("audiobookshelf returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrTransient, "library", operation, "decode response", err)
	}
	return nil
}
