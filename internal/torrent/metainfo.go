package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/bencode"
)

// Metainfo is the parsed subset of a .torrent file.
type Metainfo struct {
	InfoHash string
	Name     string
	Length   int64
	Files    int
}

type rawMetainfo struct {
	Info bencode.RawMessage `bencode:"info"`
}

type infoDict struct {
	Name   string `bencode:"name"`
	Length int64  `bencode:"length"`
	Files  []struct {
		Length int64 `bencode:"length"`
	} `bencode:"files"`
}

// ParseMetainfo decodes a .torrent file. The info hash is the SHA-1 of the
// info dictionary exactly as encoded in the file.
func ParseMetainfo(data []byte) (Metainfo, error) {
	var raw rawMetainfo
	if err := bencode.DecodeBytes(data, &raw); err != nil {
		return Metainfo{}, fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if len(raw.Info) == 0 {
		return Metainfo{}, fmt.Errorf("%w: missing info dictionary", ErrInvalidSource)
	}
	var info infoDict
	if err := bencode.DecodeBytes(raw.Info, &info); err != nil {
		return Metainfo{}, fmt.Errorf("%w: info dictionary: %v", ErrInvalidSource, err)
	}

	sum := sha1.Sum(raw.Info)
	meta := Metainfo{
		InfoHash: hex.EncodeToString(sum[:]),
		Name:     info.Name,
		Length:   info.Length,
		Files:    1,
	}
	if len(info.Files) > 0 {
		meta.Files = len(info.Files)
		meta.Length = 0
		for _, f := range info.Files {
			meta.Length += f.Length
		}
	}
	return meta, nil
}

// InfoHash returns the deterministic identifier for either a magnet URI or
// raw metainfo bytes.
func InfoHash(magnet string, data []byte) (string, error) {
	if magnet != "" {
		m, err := ParseMagnet(magnet)
		if err != nil {
			return "", err
		}
		return m.InfoHash, nil
	}
	meta, err := ParseMetainfo(data)
	if err != nil {
		return "", err
	}
	return meta.InfoHash, nil
}
