// Package sabnzbd implements the download client contract against the
// SABnzbd HTTP API. NZBs are fetched and parsed locally; their digest is
// embedded in the job name so a retried add finds the existing job.
package sabnzbd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"shelfarr/internal/config"
	"shelfarr/internal/downloader"
	"shelfarr/internal/logging"
	"shelfarr/internal/services"
	"shelfarr/internal/textutil"
)

const (
	component   = "sabnzbd"
	digestTag   = "shelfarr-"
	maxNameLen  = 160
	historyPage = 200
)

// Client talks to one SABnzbd instance.
type Client struct {
	cfg    config.DownloadClient
	base   string
	opts   downloader.Options
	logger *slog.Logger
}

// New constructs a SABnzbd adapter. An API key is required.
func New(cfg config.DownloadClient, opts ...downloader.Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "url is required", nil)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "new", "api_key is required", nil)
	}
	base = strings.TrimSuffix(base, "/api")
	o := downloader.NewOptions(cfg, opts...)
	return &Client{
		cfg:    cfg,
		base:   base + "/api",
		opts:   o,
		logger: o.Logger.With(logging.String("client_type", config.ClientTypeSABnzbd)),
	}, nil
}

func (c *Client) ID() string                   { return c.cfg.ID }
func (c *Client) Type() string                 { return config.ClientTypeSABnzbd }
func (c *Client) Protocol() downloader.Protocol { return downloader.ProtocolUsenet }

// TestConnection reads the version and checks the API key with get_cats.
func (c *Client) TestConnection(ctx context.Context) downloader.ConnectionResult {
	var version struct {
		Version string `json:"version"`
	}
	if err := c.get(ctx, url.Values{"mode": {"version"}}, &version); err != nil {
		return downloader.ConnectionResult{Message: err.Error()}
	}
	if _, err := c.GetCategories(ctx); err != nil {
		return downloader.ConnectionResult{Version: version.Version, Message: err.Error()}
	}
	return downloader.ConnectionResult{Success: true, Version: version.Version, Message: "connected"}
}

// AddDownload fetches and parses the NZB, returns the nzo_id of an existing
// queue or history entry carrying the same digest, and otherwise uploads it.
func (c *Client) AddDownload(ctx context.Context, src downloader.Source, opts downloader.AddOptions) (string, error) {
	fetched, err := c.opts.Fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return "", err
	}
	if fetched.Magnet != "" {
		return "", services.Wrap(services.ErrRejected, component, "add", "magnet sources need a torrent client", nil)
	}
	nzb, err := ParseNZB(fetched.Data)
	if err != nil {
		return "", services.Wrap(services.ErrRejected, component, "add", "invalid nzb", err)
	}

	existing, err := c.findByDigest(ctx, nzb.Digest)
	if err != nil {
		return "", err
	}
	if existing != "" {
		c.logger.Info("nzb already queued", logging.String(logging.FieldDownloadID, existing), logging.String("digest", nzb.Digest))
		return existing, nil
	}

	jobName := c.jobName(src, fetched, nzb)
	fields := url.Values{
		"mode":    {"addfile"},
		"nzbname": {jobName},
	}
	category := strings.TrimSpace(opts.Category)
	if category == "" {
		category = c.cfg.Category
	}
	if category != "" {
		fields.Set("cat", category)
	}
	switch {
	case opts.StartPaused:
		fields.Set("priority", "-2")
	case opts.Priority > 0:
		fields.Set("priority", "1")
	}

	var added struct {
		Status bool     `json:"status"`
		NzoIDs []string `json:"nzo_ids"`
		Error  string   `json:"error"`
	}
	if err := c.upload(ctx, fields, jobName+".nzb", fetched.Data, &added); err != nil {
		return "", err
	}
	if !added.Status || len(added.NzoIDs) == 0 {
		msg := added.Error
		if msg == "" {
			msg = "SABnzbd did not return an nzo_id"
		}
		return "", services.Wrap(services.ErrRejected, component, "add", msg, nil)
	}
	c.logger.Info("nzb added",
		logging.String(logging.FieldDownloadID, added.NzoIDs[0]),
		logging.String("digest", nzb.Digest),
		logging.Int64("size_bytes", nzb.Bytes),
	)
	return added.NzoIDs[0], nil
}

// GetDownload looks in the queue first, then in history.
func (c *Client) GetDownload(ctx context.Context, id string) (*downloader.Download, error) {
	id = strings.TrimSpace(id)
	return downloader.LookupWithRetry(ctx, c.opts, func(ctx context.Context) (*downloader.Download, error) {
		return c.lookup(ctx, id)
	})
}

func (c *Client) PauseDownload(ctx context.Context, id string) error {
	return c.get(ctx, url.Values{"mode": {"queue"}, "name": {"pause"}, "value": {id}}, nil)
}

func (c *Client) ResumeDownload(ctx context.Context, id string) error {
	return c.get(ctx, url.Values{"mode": {"queue"}, "name": {"resume"}, "value": {id}}, nil)
}

// DeleteDownload removes the job from the queue and from history.
func (c *Client) DeleteDownload(ctx context.Context, id string, deleteFiles bool) error {
	del := "0"
	if deleteFiles {
		del = "1"
	}
	for _, mode := range []string{"queue", "history"} {
		err := c.get(ctx, url.Values{"mode": {mode}, "name": {"delete"}, "value": {id}, "del_files": {del}}, nil)
		if err := downloader.IgnoreNotFound(err); err != nil {
			return err
		}
	}
	return nil
}

// PostProcess removes the finished job from history and keeps its files.
func (c *Client) PostProcess(ctx context.Context, id string) error {
	err := c.get(ctx, url.Values{"mode": {"history"}, "name": {"delete"}, "value": {id}, "del_files": {"0"}}, nil)
	return downloader.IgnoreNotFound(err)
}

// GetCategories lists categories, without SABnzbd's "*" default.
func (c *Client) GetCategories(ctx context.Context) ([]string, error) {
	var res struct {
		Categories []string `json:"categories"`
	}
	if err := c.get(ctx, url.Values{"mode": {"get_cats"}}, &res); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(res.Categories))
	for _, name := range res.Categories {
		if name != "*" && name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}

func (c *Client) SetCategory(ctx context.Context, id, name string) error {
	if strings.TrimSpace(name) == "" {
		name = "*"
	}
	return c.get(ctx, url.Values{"mode": {"change_cat"}, "value": {id}, "value2": {name}}, nil)
}

func (c *Client) jobName(src downloader.Source, fetched *downloader.Fetched, nzb NZB) string {
	name := strings.TrimSpace(src.Title)
	if name == "" {
		name = nzb.Title
	}
	if name == "" {
		name = strings.TrimSuffix(fetched.FileName, ".nzb")
	}
	if name == "" {
		name = "audiobook"
	}
	name = textutil.SanitizePathValue(name, maxNameLen)
	return fmt.Sprintf("%s [%s%s]", name, digestTag, nzb.Digest)
}

func (c *Client) findByDigest(ctx context.Context, digest string) (string, error) {
	needle := digestTag + digest
	queue, err := c.queue(ctx, needle)
	if err != nil {
		return "", err
	}
	for _, slot := range queue.Slots {
		if strings.Contains(slot.Filename, needle) {
			return slot.NzoID, nil
		}
	}
	history, err := c.history(ctx, needle)
	if err != nil {
		return "", err
	}
	for _, slot := range history.Slots {
		// A failed attempt with the same digest must not block a retry.
		if strings.Contains(slot.Name, needle) && !strings.EqualFold(slot.Status, "Failed") {
			return slot.NzoID, nil
		}
	}
	return "", nil
}

func (c *Client) lookup(ctx context.Context, id string) (*downloader.Download, error) {
	queue, err := c.queue(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, slot := range queue.Slots {
		if slot.NzoID == id {
			return slot.toDownload(queue.Paused), nil
		}
	}
	history, err := c.historyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, slot := range history.Slots {
		if slot.NzoID == id {
			return slot.toDownload(), nil
		}
	}
	return nil, nil
}

func (c *Client) queue(ctx context.Context, search string) (queueResult, error) {
	params := url.Values{"mode": {"queue"}}
	if search != "" {
		params.Set("search", search)
	}
	var res struct {
		Queue queueResult `json:"queue"`
	}
	err := c.get(ctx, params, &res)
	return res.Queue, err
}

func (c *Client) history(ctx context.Context, search string) (historyResult, error) {
	params := url.Values{"mode": {"history"}, "limit": {strconv.Itoa(historyPage)}}
	if search != "" {
		params.Set("search", search)
	}
	var res struct {
		History historyResult `json:"history"`
	}
	err := c.get(ctx, params, &res)
	return res.History, err
}

func (c *Client) historyByID(ctx context.Context, id string) (historyResult, error) {
	var res struct {
		History historyResult `json:"history"`
	}
	err := c.get(ctx, url.Values{"mode": {"history"}, "nzo_ids": {id}}, &res)
	return res.History, err
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", c.cfg.APIKey)
	params.Set("output", "json")
	ctx, cancel := context.WithTimeout(ctx, downloader.DefaultRPCTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+params.Encode(), nil)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, params.Get("mode"), "build request", err)
	}
	return c.do(req, params.Get("mode"), out)
}

func (c *Client) upload(ctx context.Context, params url.Values, fileName string, data []byte, out any) error {
	params.Set("apikey", c.cfg.APIKey)
	params.Set("output", "json")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("name", fileName)
	if err != nil {
		return services.Wrap(services.ErrValidation, component, "addfile", "build upload", err)
	}
	if _, err := part.Write(data); err != nil {
		return services.Wrap(services.ErrValidation, component, "addfile", "build upload", err)
	}
	if err := w.Close(); err != nil {
		return services.Wrap(services.ErrValidation, component, "addfile", "build upload", err)
	}

	ctx, cancel := context.WithTimeout(ctx, downloader.DefaultFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"?"+params.Encode(), &buf)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, component, "addfile", "build request", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, "addfile", out)
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return downloader.TransportError(component, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return downloader.StatusError(component, op, resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return downloader.TransportError(component, op, err)
	}

	var status struct {
		Status *bool  `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &status); err == nil && status.Status != nil && !*status.Status && status.Error != "" {
		return apiError(op, status.Error)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return services.Wrap(services.ErrExternalTool, component, op, "decode response", err)
		}
	}
	return nil
}

func apiError(op, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "api key"):
		return services.Wrap(services.ErrAuthentication, component, op, msg, nil)
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such"):
		return services.Wrap(services.ErrNotFound, component, op, msg, nil)
	default:
		return services.Wrap(services.ErrRejected, component, op, msg, nil)
	}
}

type queueResult struct {
	Paused bool        `json:"paused"`
	Slots  []queueSlot `json:"slots"`
}

type queueSlot struct {
	NzoID      string `json:"nzo_id"`
	Filename   string `json:"filename"`
	Status     string `json:"status"`
	MB         string `json:"mb"`
	MBLeft     string `json:"mbleft"`
	Percentage string `json:"percentage"`
	TimeLeft   string `json:"timeleft"`
	Category   string `json:"cat"`
}

func (s queueSlot) toDownload(queuePaused bool) *downloader.Download {
	total := mbToBytes(s.MB)
	left := mbToBytes(s.MBLeft)
	pct, _ := strconv.ParseFloat(strings.TrimSpace(s.Percentage), 64)
	return &downloader.Download{
		ID:        s.NzoID,
		Name:      s.Filename,
		Status:    mapQueueStatus(s.Status, queuePaused),
		Size:      total,
		BytesDone: total - left,
		Progress:  pct / 100,
		ETA:       parseTimeLeft(s.TimeLeft),
		Category:  s.Category,
	}
}

type historyResult struct {
	Slots []historySlot `json:"slots"`
}

type historySlot struct {
	NzoID       string `json:"nzo_id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Bytes       int64  `json:"bytes"`
	Storage     string `json:"storage"`
	Completed   int64  `json:"completed"`
	FailMessage string `json:"fail_message"`
	Category    string `json:"category"`
}

func (s historySlot) toDownload() *downloader.Download {
	dl := &downloader.Download{
		ID:        s.NzoID,
		Name:      s.Name,
		Status:    mapHistoryStatus(s.Status),
		Size:      s.Bytes,
		BytesDone: s.Bytes,
		Progress:  1,
		Category:  s.Category,
		Path:      s.Storage,
	}
	if s.Completed > 0 {
		done := time.Unix(s.Completed, 0).UTC()
		dl.CompletedAt = &done
	}
	if dl.Status == downloader.StatusFailed {
		dl.Error = s.FailMessage
		if dl.Error == "" {
			dl.Error = "SABnzbd reports the job failed"
		}
	}
	return dl
}

func mapQueueStatus(status string, queuePaused bool) downloader.Status {
	if queuePaused {
		return downloader.StatusPaused
	}
	switch status {
	case "Paused":
		return downloader.StatusPaused
	case "Queued", "Idle", "Grabbing", "Fetching", "Propagating":
		return downloader.StatusQueued
	case "Checking", "QuickCheck", "Verifying":
		return downloader.StatusChecking
	default:
		return downloader.StatusDownloading
	}
}

func mapHistoryStatus(status string) downloader.Status {
	switch status {
	case "Completed":
		return downloader.StatusCompleted
	case "Failed":
		return downloader.StatusFailed
	default:
		return downloader.StatusProcessing
	}
}

func mbToBytes(value string) int64 {
	mb, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || mb < 0 {
		return 0
	}
	return int64(mb * 1024 * 1024)
}

// parseTimeLeft reads SABnzbd's "H:MM:SS" or "D:HH:MM:SS".
func parseTimeLeft(value string) time.Duration {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 3 {
		return 0
	}
	var total int64
	multipliers := []int64{1, 60, 3600, 86400}
	for i := 0; i < len(parts) && i < len(multipliers); i++ {
		n, err := strconv.ParseInt(parts[len(parts)-1-i], 10, 64)
		if err != nil {
			return 0
		}
		total += n * multipliers[i]
	}
	return time.Duration(total) * time.Second
}
