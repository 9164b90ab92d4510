// Package transmission implements the download client contract against the
// Transmission JSON-RPC API. Categories map onto torrent labels.
package transmission

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/torrent"
)

const (
	component       = "transmission"
	sessionHeader   = "X-Transmission-Session-Id"
	defaultRPCPath  = "/transmission/rpc"
	localErrorState = 3
)

var torrentFields = []string{
	"id", "hashString", "name", "status", "totalSize", "sizeWhenDone", "leftUntilDone",
	"percentDone", "rateDownload", "eta", "labels", "downloadDir", "doneDate",
	"error", "errorString", "secondsSeeding", "uploadRatio", "isFinished",
}

// Client talks to one Transmission daemon.
type Client struct {
	cfg      config.DownloadClient
	endpoint string
	opts     downloader.Options
	mapping  downloader.PathMapping
	logger   *slog.Logger

	mu        sync.Mutex
	sessionID string
}

// New constructs a Transmission adapter. A URL without a path gets the
// default RPC path appended.
func New(cfg config.DownloadClient, opts ...downloader.Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.URL)
	if raw == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "invalid url "+raw, err)
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = defaultRPCPath
	}
	o := downloader.NewOptions(cfg, opts...)
	return &Client{
		cfg:      cfg,
		endpoint: u.String(),
		opts:     o,
		mapping:  downloader.MappingFromConfig(cfg.PathMapping),
		logger:   o.Logger.With(logging.String("client_type", config.ClientTypeTransmission)),
	}, nil
}

func (c *Client) ID() string                   { return c.cfg.ID }
func (c *Client) Type() string                 { return config.ClientTypeTransmission }
func (c *Client) Protocol() downloader.Protocol { return downloader.ProtocolTorrent }

// TestConnection performs the session handshake and reads the daemon version.
func (c *Client) TestConnection(ctx context.Context) downloader.ConnectionResult {
	var session struct {
		Version    string `json:"version"`
		RPCVersion int    `json:"rpc-version"`
	}
	if err := c.rpc(ctx, "session-get", map[string]any{"fields": []string{"version", "rpc-version"}}, &session); err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	return downloader.ConnectionResult{Success: true, Version: session.Version, Message: "connected"}
}

// AddDownload adds a magnet or .torrent. Duplicates resolve to the existing
// hash.
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

	args := map[string]any{"paused": opts.StartPaused}
	if fetched.Magnet != "" {
		args["filename"] = fetched.Magnet
	} else {
		args["metainfo"] = base64.StdEncoding.EncodeToString(fetched.Data)
	}
	if dir := c.downloadDir(opts); dir != "" {
		args["download-dir"] = dir
	}
	label := strings.TrimSpace(opts.Category)
	if label == "" {
		label = c.cfg.Category
	}
	if label != "" {
		args["labels"] = []string{label}
	}
	if opts.Priority > 0 {
		args["bandwidthPriority"] = 1
	}

	var added struct {
		Added     *addedTorrent `json:"torrent-added"`
		Duplicate *addedTorrent `json:"torrent-duplicate"`
	}
	if err := c.rpc(ctx, "torrent-add", args, &added); err != nil {
		return "", err
	}
	switch {
	case added.Added != nil && added.Added.HashString != "":
		hash = strings.ToLower(added.Added.HashString)
	case added.Duplicate != nil && added.Duplicate.HashString != "":
		hash = strings.ToLower(added.Duplicate.HashString)
		c.logger.Info("transmission reported duplicate torrent", logging.String(logging.FieldDownloadID, hash))
	}
	c.logger.Info("torrent added", logging.String(logging.FieldDownloadID, hash), logging.String("label", label))
	return hash, nil
}

// GetDownload returns the torrent snapshot, retrying while it is not visible.
func (c *Client) GetDownload(ctx context.Context, id string) (*downloader.Download, error) {
	hash := strings.ToLower(strings.TrimSpace(id))
	return downloader.LookupWithRetry(ctx, c.opts, func(ctx context.Context) (*downloader.Download, error) {
		return c.lookup(ctx, hash)
	})
}

func (c *Client) PauseDownload(ctx context.Context, id string) error {
	return c.rpc(ctx, "torrent-stop", map[string]any{"ids": []string{strings.ToLower(id)}}, nil)
}

func (c *Client) ResumeDownload(ctx context.Context, id string) error {
	return c.rpc(ctx, "torrent-start", map[string]any{"ids": []string{strings.ToLower(id)}}, nil)
}

// DeleteDownload removes the torrent, optionally with its local data.
func (c *Client) DeleteDownload(ctx context.Context, id string, deleteFiles bool) error {
	return c.rpc(ctx, "torrent-remove", map[string]any{
		"ids":               []string{strings.ToLower(id)},
		"delete-local-data": deleteFiles,
	}, nil)
}

// PostProcess is a no-op; seeding torrents are removed by the cleanup sweep.
func (c *Client) PostProcess(context.Context, string) error { return nil }

// GetCategories returns the distinct labels in use.
func (c *Client) GetCategories(ctx context.Context) ([]string, error) {
	var res struct {
		Torrents []struct {
			Labels []string `json:"labels"`
		} `json:"torrents"`
	}
	if err := c.rpc(ctx, "torrent-get", map[string]any{"fields": []string{"labels"}}, &res); err != nil {
		return nil, err
	}
	var labels []string
	for _, t := range res.Torrents {
		for _, label := range t.Labels {
			if label != "" && !slices.Contains(labels, label) {
				labels = append(labels, label)
			}
		}
	}
	if c.cfg.Category != "" && !slices.Contains(labels, c.cfg.Category) {
		labels = append(labels, c.cfg.Category)
	}
	slices.Sort(labels)
	return labels, nil
}

// SetCategory replaces the torrent's labels with name.
func (c *Client) SetCategory(ctx context.Context, id, name string) error {
	labels := []string{}
	if strings.TrimSpace(name) != "" {
		labels = append(labels, name)
	}
	return c.rpc(ctx, "torrent-set", map[string]any{"ids": []string{strings.ToLower(id)}, "labels": labels}, nil)
}

func (c *Client) downloadDir(opts downloader.AddOptions) string {
	if strings.TrimSpace(opts.SavePath) != "" {
		return c.mapping.ToRemote(opts.SavePath)
	}
	return c.cfg.DownloadDir
}

func (c *Client) lookup(ctx context.Context, hash string) (*downloader.Download, error) {
	var res struct {
		Torrents []torrentInfo `json:"torrents"`
	}
	if err := c.rpc(ctx, "torrent-get", map[string]any{"ids": []string{hash}, "fields": torrentFields}, &res); err != nil {
		return nil, err
	}
	for _, t := range res.Torrents {
		if strings.EqualFold(t.HashString, hash) {
			return t.toDownload(), nil
		}
	}
	return nil, nil
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

// rpc performs one call. A 409 carries a fresh session id; the call is
// repeated once with it.
func (c *Client) rpc(ctx context.Context, method string, args any, out any) error {
	payload, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return services.Wrap(services.ErrValidation, component, method, "encode request", err)
	}

	var resp *http.Response
	for attempt := 0; attempt < 2; attempt++ {
		resp, err = c.post(ctx, payload)
		if err != nil {
			return downloader.TransportError(component, method, err)
		}
		if resp.StatusCode != http.StatusConflict {
			break
		}
		id := resp.Header.Get(sessionHeader)
		resp.Body.Close()
		if id == "" {
			return services.Wrap(services.ErrRejected, component, method, "HTTP 409 without session id", nil)
		}
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
		c.logger.Debug("transmission session id refreshed")
		resp = nil
	}
	if resp == nil {
		return services.Wrap(services.ErrTransient, component, method, "session id rejected twice", nil)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return downloader.StatusError(component, method, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return downloader.TransportError(component, method, err)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return services.Wrap(services.ErrExternalTool, component, method, "decode response", err)
	}
	if decoded.Result != "success" {
		return resultError(method, decoded.Result)
	}
	if out != nil && len(decoded.Arguments) > 0 {
		if err := json.Unmarshal(decoded.Arguments, out); err != nil {
			return services.Wrap(services.ErrExternalTool, component, method, "decode arguments", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, payload []byte) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, downloader.DefaultRPCTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" || c.cfg.Password != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	c.mu.Lock()
	if c.sessionID != "" {
		req.Header.Set(sessionHeader, c.sessionID)
	}
	c.mu.Unlock()
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func resultError(method, result string) error {
	lower := strings.ToLower(result)
	marker := services.ErrRejected
	switch {
	case strings.Contains(lower, "no such file"), strings.Contains(lower, "http error"), strings.Contains(lower, "couldn't fetch"):
		marker = services.ErrTransient
	}
	return services.Wrap(marker, component, method, result, nil)
}

type addedTorrent struct {
	ID         int    `json:"id"`
	HashString string `json:"hashString"`
	Name       string `json:"name"`
}

type torrentInfo struct {
	ID             int      `json:"id"`
	HashString     string   `json:"hashString"`
	Name           string   `json:"name"`
	Status         int      `json:"status"`
	TotalSize      int64    `json:"totalSize"`
	SizeWhenDone   int64    `json:"sizeWhenDone"`
	LeftUntilDone  int64    `json:"leftUntilDone"`
	PercentDone    float64  `json:"percentDone"`
	RateDownload   int64    `json:"rateDownload"`
	ETA            int64    `json:"eta"`
	Labels         []string `json:"labels"`
	DownloadDir    string   `json:"downloadDir"`
	DoneDate       int64    `json:"doneDate"`
	Error          int      `json:"error"`
	ErrorString    string   `json:"errorString"`
	SecondsSeeding int64    `json:"secondsSeeding"`
	UploadRatio    float64  `json:"uploadRatio"`
	IsFinished     bool     `json:"isFinished"`
}

func (t torrentInfo) toDownload() *downloader.Download {
	size := t.SizeWhenDone
	if size <= 0 {
		size = t.TotalSize
	}
	dl := &downloader.Download{
		ID:          strings.ToLower(t.HashString),
		Name:        t.Name,
		Status:      mapStatus(t),
		Size:        size,
		BytesDone:   size - t.LeftUntilDone,
		Progress:    t.PercentDone,
		Speed:       t.RateDownload,
		Path:        path.Join(t.DownloadDir, t.Name),
		SeedingTime: time.Duration(t.SecondsSeeding) * time.Second,
		Ratio:       t.UploadRatio,
		Error:       t.ErrorString,
	}
	if len(t.Labels) > 0 {
		dl.Category = t.Labels[0]
	}
	if t.ETA > 0 {
		dl.ETA = time.Duration(t.ETA) * time.Second
	}
	if t.DoneDate > 0 {
		done := time.Unix(t.DoneDate, 0).UTC()
		dl.CompletedAt = &done
	}
	return dl
}

// mapStatus follows tr_torrent_activity: 0 stopped, 1 check-wait, 2 check,
// 3 download-wait, 4 download, 5 seed-wait, 6 seed. A local error (3) fails
// the torrent; tracker errors only annotate it.
func mapStatus(t torrentInfo) downloader.Status {
	if t.Error == localErrorState {
		return downloader.StatusFailed
	}
	switch t.Status {
	case 0:
		if t.PercentDone >= 1 || t.IsFinished {
			return downloader.StatusCompleted
		}
		return downloader.StatusPaused
	case 1, 2:
		return downloader.StatusChecking
	case 3:
		return downloader.StatusQueued
	case 5, 6:
		return downloader.StatusSeeding
	default:
		return downloader.StatusDownloading
	}
}
