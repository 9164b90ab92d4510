// Package qbittorrent implements the download client contract against the
// qBittorrent Web API v2. Sessions use the SID cookie; a 403 triggers one
// re-login.
package qbittorrent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/torrent"
)

const component = "qbittorrent"

// Client talks to one qBittorrent instance.
type Client struct {
	cfg     config.DownloadClient
	base    string
	opts    downloader.Options
	mapping downloader.PathMapping
	logger  *slog.Logger

	loginMu sync.Mutex
}

// New constructs a qBittorrent adapter.
func New(cfg config.DownloadClient, opts ...downloader.Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "url is required", nil)
	}
	o := downloader.NewOptions(cfg, opts...)
	return &Client{
		cfg:     cfg,
		base:    base,
		opts:    o,
		mapping: downloader.MappingFromConfig(cfg.PathMapping),
		logger:  o.Logger.With(logging.String("client_type", config.ClientTypeQBittorrent)),
	}, nil
}

func (c *Client) ID() string                   { return c.cfg.ID }
func (c *Client) Type() string                 { return config.ClientTypeQBittorrent }
func (c *Client) Protocol() downloader.Protocol { return downloader.ProtocolTorrent }

// TestConnection logs in and reads the application version.
func (c *Client) TestConnection(ctx context.Context) downloader.ConnectionResult {
	if err := c.login(ctx); err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	var version string
	err := c.call(ctx, func(ctx context.Context) error {
		body, err := c.request(ctx, http.MethodGet, "/api/v2/app/version", nil, "")
		version = strings.TrimSpace(string(body))
		return err
	})
	if err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	return downloader.ConnectionResult{Success: true, Version: version, Message: "connected"}
}

// AddDownload derives the info hash first and returns it unchanged when the
// torrent is already present.
func (c *Client) AddDownload(ctx context.Context, src downloader.Source, opts downloader.AddOptions) (string, error) {
	fetched, err := c.opts.Fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return "", err
	}
	hash, err := torrent.InfoHash(fetched.Magnet, fetched.Data)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, component, "add", "invalid torrent source", err)
	}

	existing, err := c.lookup(ctx, hash)
	if err != nil {
		return "", err
	}
	if existing != nil {
		c.logger.Info("torrent already present", logging.String(logging.FieldDownloadID, hash))
		return hash, nil
	}

	category := strings.TrimSpace(opts.Category)
	if category == "" {
		category = c.cfg.Category
	}
	if category != "" {
		if err := c.ensureCategory(ctx, category); err != nil {
			return "", err
		}
	}

	fields := map[string]string{}
	if category != "" {
		fields["category"] = category
	}
	if savePath := c.savePath(opts); savePath != "" {
		fields["savepath"] = savePath
	}
	if opts.StartPaused {
		// v4 reads "paused", v5 reads "stopped".
		fields["paused"] = "true"
		fields["stopped"] = "true"
	}
	if opts.Priority > 0 {
		fields["addToTopOfQueue"] = "true"
	}

	err = c.call(ctx, func(ctx context.Context) error {
		body, contentType, err := multipartBody(fields, fetched, src.Title)
		if err != nil {
			return err
		}
		resp, err := c.request(ctx, http.MethodPost, "/api/v2/torrents/add", body, contentType)
		if err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(string(resp)), "Fails.") {
			return services.Wrap(services.ErrRejected, component, "add", "qBittorrent refused the torrent", nil)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	c.logger.Info("torrent added", logging.String(logging.FieldDownloadID, hash), logging.String("category", category))
	return hash, nil
}

// GetDownload returns the torrent snapshot, retrying while it is not visible.
func (c *Client) GetDownload(ctx context.Context, id string) (*downloader.Download, error) {
	hash := strings.ToLower(strings.TrimSpace(id))
	return downloader.LookupWithRetry(ctx, c.opts, func(ctx context.Context) (*downloader.Download, error) {
		return c.lookup(ctx, hash)
	})
}

// PauseDownload stops the torrent; qBittorrent 5 renamed pause to stop.
func (c *Client) PauseDownload(ctx context.Context, id string) error {
	return c.hashCommand(ctx, id, "/api/v2/torrents/pause", "/api/v2/torrents/stop", nil)
}

// ResumeDownload starts the torrent; qBittorrent 5 renamed resume to start.
func (c *Client) ResumeDownload(ctx context.Context, id string) error {
	return c.hashCommand(ctx, id, "/api/v2/torrents/resume", "/api/v2/torrents/start", nil)
}

// DeleteDownload removes the torrent, optionally with its files.
func (c *Client) DeleteDownload(ctx context.Context, id string, deleteFiles bool) error {
	return c.hashCommand(ctx, id, "/api/v2/torrents/delete", "", url.Values{"deleteFiles": {strconv.FormatBool(deleteFiles)}})
}

// PostProcess is a no-op; seeding torrents are removed by the cleanup sweep.
func (c *Client) PostProcess(context.Context, string) error { return nil }

// GetCategories lists configured categories.
func (c *Client) GetCategories(ctx context.Context) ([]string, error) {
	var names []string
	err := c.call(ctx, func(ctx context.Context) error {
		body, err := c.request(ctx, http.MethodGet, "/api/v2/torrents/categories", nil, "")
		if err != nil {
			return err
		}
		var categories map[string]json.RawMessage
		if err := json.Unmarshal(body, &categories); err != nil {
			return services.Wrap(services.ErrExternalTool, component, "categories", "decode response", err)
		}
		names = names[:0]
		for name := range categories {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// SetCategory assigns a category, creating it when missing.
func (c *Client) SetCategory(ctx context.Context, id, name string) error {
	if strings.TrimSpace(name) != "" {
		if err := c.ensureCategory(ctx, name); err != nil {
			return err
		}
	}
	return c.hashCommand(ctx, id, "/api/v2/torrents/setCategory", "", url.Values{"category": {name}})
}

func (c *Client) ensureCategory(ctx context.Context, name string) error {
	categories, err := c.GetCategories(ctx)
	if err != nil {
		return err
	}
	for _, existing := range categories {
		if existing == name {
			return nil
		}
	}
	form := url.Values{"category": {name}}
	err = c.call(ctx, func(ctx context.Context) error {
		_, err := c.request(ctx, http.MethodPost, "/api/v2/torrents/createCategory", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
		return err
	})
	switch {
	case err == nil:
		c.logger.Info("category created", logging.String("category", name))
		return nil
	case errors.Is(err, services.ErrRejected):
		// 409: created concurrently.
		return nil
	default:
		return err
	}
}

func (c *Client) hashCommand(ctx context.Context, id, path, fallback string, extra url.Values) error {
	form := url.Values{"hashes": {strings.ToLower(strings.TrimSpace(id))}}
	for k, v := range extra {
		form[k] = v
	}
	run := func(p string) error {
		return c.call(ctx, func(ctx context.Context) error {
			_, err := c.request(ctx, http.MethodPost, p, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
			return err
		})
	}
	err := run(path)
	if fallback != "" && isNotFound(err) {
		err = run(fallback)
	}
	return downloader.IgnoreNotFound(err)
}

func (c *Client) lookup(ctx context.Context, hash string) (*downloader.Download, error) {
	var found *downloader.Download
	err := c.call(ctx, func(ctx context.Context) error {
		body, err := c.request(ctx, http.MethodGet, "/api/v2/torrents/info?hashes="+url.QueryEscape(hash), nil, "")
		if err != nil {
			return err
		}
		var infos []torrentInfo
		if err := json.Unmarshal(body, &infos); err != nil {
			return services.Wrap(services.ErrExternalTool, component, "info", "decode response", err)
		}
		found = nil
		for _, info := range infos {
			if strings.EqualFold(info.Hash, hash) {
				found = info.toDownload()
				break
			}
		}
		return nil
	})
	return found, err
}

func (c *Client) savePath(opts downloader.AddOptions) string {
	if strings.TrimSpace(opts.SavePath) != "" {
		return c.mapping.ToRemote(opts.SavePath)
	}
	return c.cfg.DownloadDir
}

// call runs op, logging in again once when qBittorrent answers 403.
func (c *Client) call(ctx context.Context, op func(context.Context) error) error {
	return downloader.WithReauth(ctx, c.login, op)
}

func (c *Client) login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v2/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "login", "build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent checks Referer/Origin against its own host.
	req.Header.Set("Referer", c.base)
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return downloader.TransportError(component, "login", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return downloader.StatusError(component, "login", resp)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if !strings.HasPrefix(strings.TrimSpace(string(body)), "Ok") {
		return services.Wrap(services.ErrAuthentication, component, "login", "credentials rejected", nil)
	}
	c.logger.Debug("qbittorrent session established")
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloader.DefaultRPCTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, component, path, "build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Referer", c.base)
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, downloader.TransportError(component, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, downloader.StatusError(component, path, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, downloader.TransportError(component, path, err)
	}
	return data, nil
}

func multipartBody(fields map[string]string, fetched *downloader.Fetched, title string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if fetched.Magnet != "" {
		if err := w.WriteField("urls", fetched.Magnet); err != nil {
			return nil, "", err
		}
	} else {
		name := fetched.FileName
		if name == "" {
			name = strings.TrimSpace(title)
		}
		if name == "" {
			name = "source"
		}
		if !strings.HasSuffix(strings.ToLower(name), ".torrent") {
			name += ".torrent"
		}
		part, err := w.CreateFormFile("torrents", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(fetched.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, services.ErrNotFound)
}

type torrentInfo struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	State        string  `json:"state"`
	Size         int64   `json:"size"`
	TotalSize    int64   `json:"total_size"`
	Completed    int64   `json:"completed"`
	Progress     float64 `json:"progress"`
	DLSpeed      int64   `json:"dlspeed"`
	ETA          int64   `json:"eta"`
	Category     string  `json:"category"`
	SavePath     string  `json:"save_path"`
	ContentPath  string  `json:"content_path"`
	CompletionOn int64   `json:"completion_on"`
	SeedingTime  int64   `json:"seeding_time"`
	Ratio        float64 `json:"ratio"`
}

func (t torrentInfo) toDownload() *downloader.Download {
	size := t.TotalSize
	if size <= 0 {
		size = t.Size
	}
	path := t.ContentPath
	if path == "" {
		path = t.SavePath
	}
	dl := &downloader.Download{
		ID:          strings.ToLower(t.Hash),
		Name:        t.Name,
		Status:      mapState(t.State),
		Size:        size,
		BytesDone:   t.Completed,
		Progress:    t.Progress,
		Speed:       t.DLSpeed,
		Category:    t.Category,
		Path:        path,
		SeedingTime: time.Duration(t.SeedingTime) * time.Second,
		Ratio:       t.Ratio,
	}
	// 8640000 is qBittorrent's "infinite" ETA.
	if t.ETA > 0 && t.ETA < 8640000 {
		dl.ETA = time.Duration(t.ETA) * time.Second
	}
	if t.CompletionOn > 0 {
		completed := time.Unix(t.CompletionOn, 0).UTC()
		dl.CompletedAt = &completed
	}
	if dl.Status == downloader.StatusFailed {
		dl.Error = fmt.Sprintf("qBittorrent reports state %q", t.State)
	}
	return dl
}

func mapState(state string) downloader.Status {
	switch state {
	case "error", "missingFiles":
		return downloader.StatusFailed
	case "uploading", "stalledUP", "forcedUP", "queuedUP":
		return downloader.StatusSeeding
	case "pausedUP", "stoppedUP":
		return downloader.StatusCompleted
	case "pausedDL", "stoppedDL":
		return downloader.StatusPaused
	case "queuedDL":
		return downloader.StatusQueued
	case "checkingDL", "checkingUP", "checkingResumeData":
		return downloader.StatusChecking
	case "moving":
		return downloader.StatusProcessing
	default:
		return downloader.StatusDownloading
	}
}
