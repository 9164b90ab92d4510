package organizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"shelfarr/internal/services"
)

const (
	maxCoverBytes = 20 << 20
	maxEbookBytes = 200 << 20
	coverFileName = "cover.jpg"
	coverQuality  = 90
)

var ebookTypes = map[string]string{
	"application/epub+zip":           ".epub",
	"application/pdf":                ".pdf",
	"application/x-mobipocket-ebook": ".mobi",
	"application/vnd.amazon.ebook":   ".azw3",
}

func isEbookExt(ext string) bool {
	for _, known := range ebookTypes {
		if strings.EqualFold(known, ext) {
			return true
		}
	}
	return false
}

// fetch downloads rawURL with a body cap and returns the payload and its
// media type.
func (o *Organizer) fetch(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "organizer", "fetch", "invalid url", err)
	}
	req.Header.Set("User-Agent", "shelfarr")
	resp, err := o.http.Do(req)
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, "organizer", "fetch", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", services.Wrap(services.ErrNotFound, "organizer", "fetch", fmt.Sprintf("%s returned %d", rawURL, resp.StatusCode), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", services.Wrap(services.ErrTransient, "organizer", "fetch", rawURL, err)
	}
	if int64(len(data)) > limit {
		return nil, "", services.Wrap(services.ErrContent, "organizer", "fetch", fmt.Sprintf("%s exceeds %d bytes", rawURL, limit), nil)
	}
	if len(data) == 0 {
		return nil, "", services.Wrap(services.ErrContent, "organizer", "fetch", rawURL+" returned an empty body", nil)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return data, strings.ToLower(mediaType), nil
}

// fetchCover downloads, decodes, downsizes and re-encodes cover art as JPEG.
func (o *Organizer) fetchCover(ctx context.Context, rawURL string) ([]byte, error) {
	data, _, err := o.fetch(ctx, rawURL, maxCoverBytes)
	if err != nil {
		return nil, err
	}
	return normalizeCover(data, o.cfg.Organizer.CoverMaxPx)
}

// normalizeCover scales img so its longer edge is at most maxPx, keeping the
// aspect ratio, and encodes it as JPEG.
func normalizeCover(data []byte, maxPx int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, services.Wrap(services.ErrContent, "organizer", "decode cover", "", err)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxPx > 0 && (width > maxPx || height > maxPx) {
		if width >= height {
			height = height * maxPx / width
			width = maxPx
		} else {
			width = width * maxPx / height
			height = maxPx
		}
		width, height = max(width, 1), max(height, 1)
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: coverQuality}); err != nil {
		return nil, services.Wrap(services.ErrContent, "organizer", "encode cover", "", err)
	}
	return buf.Bytes(), nil
}

func writeCover(dir string, data []byte) (string, error) {
	target := filepath.Join(dir, coverFileName)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write cover: %w", err)
	}
	return target, nil
}

// fetchEbook downloads the e-book sidecar into dir as <name><ext>.
func (o *Organizer) fetchEbook(ctx context.Context, rawURL, dir, name string) (string, error) {
	data, mediaType, err := o.fetch(ctx, rawURL, maxEbookBytes)
	if err != nil {
		return "", err
	}
	ext := ebookExt(rawURL, mediaType)
	if ext == "" {
		return "", services.Wrap(services.ErrContent, "organizer", "fetch ebook",
			fmt.Sprintf("unrecognized e-book type %q", mediaType), nil)
	}
	target := filepath.Join(dir, name+ext)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write ebook: %w", err)
	}
	return target, nil
}

// ebookExt picks the extension from the URL path, then the content type.
func ebookExt(rawURL, mediaType string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		ext := strings.ToLower(path.Ext(parsed.Path))
		if isEbookExt(ext) {
			return ext
		}
	}
	return ebookTypes[mediaType]
}
