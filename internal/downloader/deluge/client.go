// Package deluge implements the download client contract against the Deluge
// Web UI JSON-RPC endpoint. The web UI must be connected to a daemon; the
// adapter connects it to the first configured host when it is not.
package deluge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/torrent"
)

const (
	component = "deluge"
	// Deluge returns error code 1 for unauthenticated calls.
	errCodeNotAuthenticated = 1
	// Code 2 is "Unknown method".
	errCodeUnknownMethod = 2
)

var statusKeys = []string{
	"hash", "name", "state", "total_size", "total_wanted", "total_done", "progress",
	"download_payload_rate", "eta", "label", "save_path", "download_location",
	"completed_time", "seeding_time", "ratio", "message", "is_finished",
}

var errUnknownMethod = errors.New("unknown method")

// Client talks to one Deluge Web UI.
type Client struct {
	cfg      config.DownloadClient
	endpoint string
	opts     downloader.Options
	mapping  downloader.PathMapping
	logger   *slog.Logger

	loginMu sync.Mutex
	nextID  atomic.Int64
}

// New constructs a Deluge adapter.
func New(cfg config.DownloadClient, opts ...downloader.Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "url is required", nil)
	}
	if !strings.HasSuffix(base, "/json") {
		base += "/json"
	}
	o := downloader.NewOptions(cfg, opts...)
	return &Client{
		cfg:      cfg,
		endpoint: base,
		opts:     o,
		mapping:  downloader.MappingFromConfig(cfg.PathMapping),
		logger:   o.Logger.With(logging.String("client_type", config.ClientTypeDeluge)),
	}, nil
}

func (c *Client) ID() string                   { return c.cfg.ID }
func (c *Client) Type() string                 { return config.ClientTypeDeluge }
func (c *Client) Protocol() downloader.Protocol { return downloader.ProtocolTorrent }

// TestConnection logs in, ensures a daemon connection and reports its version.
func (c *Client) TestConnection(ctx context.Context) downloader.ConnectionResult {
	if err := c.login(ctx); err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	var version string
	if err := c.call(ctx, "daemon.info", nil, &version); err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	return downloader.ConnectionResult{Success: true, Version: version, Message: "connected"}
}

// AddDownload adds a magnet or .torrent; an existing torrent resolves to its
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

	options := map[string]any{"add_paused": opts.StartPaused}
	if dir := c.downloadDir(opts); dir != "" {
		options["download_location"] = dir
	}
	var added *string
	if fetched.Magnet != "" {
		err = c.call(ctx, "core.add_torrent_magnet", []any{fetched.Magnet, options}, &added)
	} else {
		name := fetched.FileName
		if name == "" {
			name = hash + ".torrent"
		}
		err = c.call(ctx, "core.add_torrent_file", []any{name, base64.StdEncoding.EncodeToString(fetched.Data), options}, &added)
	}
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already in session") {
		return "", err
	}
	if added != nil && *added != "" {
		hash = strings.ToLower(*added)
	}

	label := strings.TrimSpace(opts.Category)
	if label == "" {
		label = c.cfg.Category
	}
	if label != "" {
		if err := c.SetCategory(ctx, hash, label); err != nil {
			logging.WarnWithContext(c.logger, "deluge label not applied", "deluge_label_failed",
				logging.String(logging.FieldDownloadID, hash),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "enable the Label plugin in Deluge"),
				logging.String(logging.FieldImpact, "download proceeds without a label"),
			)
		}
	}
	c.logger.Info("torrent added", logging.String(logging.FieldDownloadID, hash))
	return hash, nil
}

// GetDownload returns the torrent snapshot, retrying while it is not visible.
func (c *Client) GetDownload(ctx context.Context, id string) (*downloader.Download, error) {
	hash := strings.ToLower(strings.TrimSpace(id))
	return downloader.LookupWithRetry(ctx, c.opts, func(ctx context.Context) (*downloader.Download, error) {
		return c.lookup(ctx, hash)
	})
}

// PauseDownload uses pause_torrents (Deluge 2) and falls back to the 1.x
// list form of pause_torrent.
func (c *Client) PauseDownload(ctx context.Context, id string) error {
	return c.batchCommand(ctx, "core.pause_torrents", "core.pause_torrent", id)
}

func (c *Client) ResumeDownload(ctx context.Context, id string) error {
	return c.batchCommand(ctx, "core.resume_torrents", "core.resume_torrent", id)
}

// DeleteDownload removes the torrent, optionally with its data.
func (c *Client) DeleteDownload(ctx context.Context, id string, deleteFiles bool) error {
	err := c.call(ctx, "core.remove_torrent", []any{strings.ToLower(id), deleteFiles}, nil)
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "invalid torrent") || strings.Contains(msg, "not in session") {
			return nil
		}
	}
	return err
}

// PostProcess is a no-op; seeding torrents are removed by the cleanup sweep.
func (c *Client) PostProcess(context.Context, string) error { return nil }

// GetCategories lists labels from the Label plugin.
func (c *Client) GetCategories(ctx context.Context) ([]string, error) {
	var labels []string
	if err := c.labelCall(ctx, "label.get_labels", nil, &labels); err != nil {
		return nil, err
	}
	slices.Sort(labels)
	return labels, nil
}

// SetCategory applies a label, creating it first. Deluge labels are lower
// case.
func (c *Client) SetCategory(ctx context.Context, id, name string) error {
	label := strings.ToLower(strings.TrimSpace(name))
	if label != "" {
		labels, err := c.GetCategories(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(labels, label) {
			if err := c.labelCall(ctx, "label.add", []any{label}, nil); err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
				return err
			}
		}
	}
	return c.labelCall(ctx, "label.set_torrent", []any{strings.ToLower(id), label}, nil)
}

// labelCall enables the Label plugin once when the daemon does not know the
// method. Without the plugin label calls degrade to no-ops.
func (c *Client) labelCall(ctx context.Context, method string, params []any, out any) error {
	err := c.call(ctx, method, params, out)
	if !errors.Is(err, errUnknownMethod) {
		return err
	}
	if enableErr := c.call(ctx, "core.enable_plugin", []any{"Label"}, nil); enableErr != nil {
		c.logger.Debug("deluge label plugin unavailable", logging.Error(enableErr))
		return nil
	}
	c.logger.Info("deluge label plugin enabled")
	err = c.call(ctx, method, params, out)
	if errors.Is(err, errUnknownMethod) {
		return nil
	}
	return err
}

func (c *Client) batchCommand(ctx context.Context, method, fallback, id string) error {
	ids := []any{[]string{strings.ToLower(id)}}
	err := c.call(ctx, method, ids, nil)
	if errors.Is(err, errUnknownMethod) {
		err = c.call(ctx, fallback, ids, nil)
	}
	return err
}

func (c *Client) downloadDir(opts downloader.AddOptions) string {
	if strings.TrimSpace(opts.SavePath) != "" {
		return c.mapping.ToRemote(opts.SavePath)
	}
	return c.cfg.DownloadDir
}

func (c *Client) lookup(ctx context.Context, hash string) (*downloader.Download, error) {
	var status torrentStatus
	if err := c.call(ctx, "core.get_torrent_status", []any{hash, statusKeys}, &status); err != nil {
		return nil, err
	}
	if status.Name == "" && status.Hash == "" {
		return nil, nil
	}
	if status.Hash == "" {
		status.Hash = hash
	}
	return status.toDownload(), nil
}

// call runs one RPC, logging in and connecting the web UI to a daemon once
// when the session is missing.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	return downloader.WithReauth(ctx, c.login, func(ctx context.Context) error {
		return c.rpc(ctx, method, params, out)
	})
}

func (c *Client) login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	var ok bool
	if err := c.rpc(ctx, "auth.login", []any{c.cfg.Password}, &ok); err != nil {
		return err
	}
	if !ok {
		return services.Wrap(services.ErrAuthentication, component, "auth.login", "password rejected", nil)
	}
	var connected bool
	if err := c.rpc(ctx, "web.connected", nil, &connected); err != nil {
		return err
	}
	if connected {
		return nil
	}
	var hosts [][]any
	if err := c.rpc(ctx, "web.get_hosts", nil, &hosts); err != nil {
		return err
	}
	if len(hosts) == 0 || len(hosts[0]) == 0 {
		return services.Wrap(services.ErrConfiguration, component, "web.get_hosts", "web UI has no daemon hosts configured", nil)
	}
	hostID, _ := hosts[0][0].(string)
	if err := c.rpc(ctx, "web.connect", []any{hostID}, nil); err != nil {
		return err
	}
	c.logger.Info("deluge web UI connected to daemon", logging.String("host_id", hostID))
	return nil
}

type rpcRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int64  `json:"id"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	ID     int64           `json:"id"`
}

func (c *Client) rpc(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}
	payload, err := json.Marshal(rpcRequest{Method: method, Params: params, ID: c.nextID.Add(1)})
	if err != nil {
		return services.Wrap(services.ErrValidation, component, method, "encode request", err)
	}
	ctx, cancel := context.WithTimeout(ctx, downloader.DefaultRPCTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, method, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return downloader.TransportError(component, method, err)
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
	if decoded.Error != nil {
		switch decoded.Error.Code {
		case errCodeNotAuthenticated:
			return services.Wrap(services.ErrAuthentication, component, method, decoded.Error.Message, nil)
		case errCodeUnknownMethod:
			return fmt.Errorf("%w: %w", errUnknownMethod, services.Wrap(services.ErrConfiguration, component, method, decoded.Error.Message, nil))
		default:
			return services.Wrap(services.ErrRejected, component, method, decoded.Error.Message, nil)
		}
	}
	if out != nil && len(decoded.Result) > 0 && string(decoded.Result) != "null" {
		if err := json.Unmarshal(decoded.Result, out); err != nil {
			return services.Wrap(services.ErrExternalTool, component, method, "decode result", err)
		}
	}
	return nil
}

type torrentStatus struct {
	Hash             string  `json:"hash"`
	Name             string  `json:"name"`
	State            string  `json:"state"`
	TotalSize        int64   `json:"total_size"`
	TotalWanted      int64   `json:"total_wanted"`
	TotalDone        int64   `json:"total_done"`
	Progress         float64 `json:"progress"`
	Rate             float64 `json:"download_payload_rate"`
	ETA              float64 `json:"eta"`
	Label            string  `json:"label"`
	SavePath         string  `json:"save_path"`
	DownloadLocation string  `json:"download_location"`
	CompletedTime    float64 `json:"completed_time"`
	SeedingTime      float64 `json:"seeding_time"`
	Ratio            float64 `json:"ratio"`
	Message          string  `json:"message"`
	IsFinished       bool    `json:"is_finished"`
}

func (s torrentStatus) toDownload() *downloader.Download {
	size := s.TotalWanted
	if size <= 0 {
		size = s.TotalSize
	}
	dir := s.DownloadLocation
	if dir == "" {
		dir = s.SavePath
	}
	dl := &downloader.Download{
		ID:          strings.ToLower(s.Hash),
		Name:        s.Name,
		Status:      mapState(s),
		Size:        size,
		BytesDone:   s.TotalDone,
		Progress:    s.Progress / 100,
		Speed:       int64(s.Rate),
		Category:    s.Label,
		Path:        path.Join(dir, s.Name),
		SeedingTime: time.Duration(s.SeedingTime) * time.Second,
		Ratio:       s.Ratio,
	}
	if s.ETA > 0 {
		dl.ETA = time.Duration(s.ETA) * time.Second
	}
	if s.CompletedTime > 0 {
		done := time.Unix(int64(s.CompletedTime), 0).UTC()
		dl.CompletedAt = &done
	}
	if dl.Status == downloader.StatusFailed {
		dl.Error = s.Message
	}
	return dl
}

func mapState(s torrentStatus) downloader.Status {
	switch s.State {
	case "Error":
		return downloader.StatusFailed
	case "Seeding":
		return downloader.StatusSeeding
	case "Paused":
		if s.IsFinished || s.Progress >= 100 {
			return downloader.StatusCompleted
		}
		return downloader.StatusPaused
	case "Queued":
		if s.IsFinished || s.Progress >= 100 {
			return downloader.StatusSeeding
		}
		return downloader.StatusQueued
	case "Checking", "Allocating":
		return downloader.StatusChecking
	case "Moving":
		return downloader.StatusProcessing
	default:
		return downloader.StatusDownloading
	}
}
