package torrent

import (
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidSource marks magnet URIs and metainfo files that cannot yield an info hash.
var ErrInvalidSource = errors.New("invalid torrent source")

// Magnet is the parsed subset of a magnet URI.
type Magnet struct {
	InfoHash string
	Name     string
	Trackers []string
}

// ParseMagnet extracts the info hash from a magnet URI. Both the 40-character
// hex and the 32-character base32 btih forms are accepted.
func ParseMagnet(uri string) (Magnet, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(strings.ToLower(uri), "magnet:?") {
		return Magnet{}, fmt.Errorf("%w: not a magnet uri", ErrInvalidSource)
	}
	values, err := url.ParseQuery(uri[len("magnet:?"):])
	if err != nil {
		return Magnet{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}

	var m Magnet
	for _, xt := range values["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(strings.ToLower(xt), prefix) {
			continue
		}
		hash, err := normalizeHash(xt[len(prefix):])
		if err != nil {
			return Magnet{}, err
		}
		m.InfoHash = hash
		break
	}
	if m.InfoHash == "" {
		return Magnet{}, fmt.Errorf("%w: magnet has no btih", ErrInvalidSource)
	}
	m.Name = values.Get("dn")
	m.Trackers = values["tr"]
	return m, nil
}

func normalizeHash(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	switch len(raw) {
	case 40:
		decoded, err := hex.DecodeString(raw)
		if err != nil {
			return "", fmt.Errorf("%w: bad hex info hash", ErrInvalidSource)
		}
		return hex.EncodeToString(decoded), nil
	case 32:
		decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(raw))
		if err != nil {
			return "", fmt.Errorf("%w: bad base32 info hash", ErrInvalidSource)
		}
		return hex.EncodeToString(decoded), nil
	default:
		return "", fmt.Errorf("%w: info hash has length %d", ErrInvalidSource, len(raw))
	}
}
