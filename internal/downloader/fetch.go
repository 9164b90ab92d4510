package downloader

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"shelfarr/internal/services"
)

const maxSourceBytes = 50 << 20

// Fetched is a resolved source: either a magnet URI or the raw bytes of a
// .torrent/.nzb file.
type Fetched struct {
	Magnet      string
	Data        []byte
	ContentType string
	FileName    string
}

// Fetcher downloads source descriptors. Indexer proxies often answer with a
// redirect to a magnet URI; the fetcher stops there and returns the magnet.
type Fetcher struct {
	client *http.Client
}

// NewFetcher wraps base (nil builds a default client with DefaultFetchTimeout).
func NewFetcher(base *http.Client, insecure bool) *Fetcher {
	var c http.Client
	if base != nil {
		c = *base
	} else {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		c = http.Client{Timeout: DefaultFetchTimeout, Transport: transport}
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if strings.EqualFold(req.URL.Scheme, "magnet") {
			return http.ErrUseLastResponse
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	return &Fetcher{client: &c}
}

// Fetch resolves rawURL. Magnet URIs are returned as is; paths without an
// http(s) scheme are read from the local filesystem.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, services.Wrap(services.ErrValidation, "downloader", "fetch source", "empty source url", nil)
	}
	if strings.HasPrefix(strings.ToLower(rawURL), "magnet:") {
		return &Fetched{Magnet: rawURL}, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "downloader", "fetch source", "invalid source url", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	case "file", "":
		return readLocalSource(parsed.Path, rawURL)
	default:
		return nil, services.Wrap(services.ErrValidation, "downloader", "fetch source", "unsupported scheme "+parsed.Scheme, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "downloader", "fetch source", "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, TransportError("downloader", "fetch source", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if strings.HasPrefix(strings.ToLower(location), "magnet:") {
			return &Fetched{Magnet: location}, nil
		}
		return nil, services.Wrap(services.ErrRejected, "downloader", "fetch source", fmt.Sprintf("unexpected redirect to %q", location), nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, StatusError("downloader", "fetch source", resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, TransportError("downloader", "read source", err)
	}
	if len(data) > maxSourceBytes {
		return nil, services.Wrap(services.ErrRejected, "downloader", "fetch source", "source exceeds 50 MiB", nil)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrRejected, "downloader", "fetch source", "empty source body", nil)
	}
	return &Fetched{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		FileName:    responseFileName(resp, parsed),
	}, nil
}

func readLocalSource(filePath, raw string) (*Fetched, error) {
	if filePath == "" {
		filePath = raw
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "downloader", "read source", filePath, err)
	}
	return &Fetched{Data: data, FileName: path.Base(filePath)}, nil
}

func responseFileName(resp *http.Response, u *url.URL) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return path.Base(name)
			}
		}
	}
	if base := path.Base(u.Path); base != "." && base != "/" {
		return base
	}
	return ""
}
