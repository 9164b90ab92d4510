package torrent

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/zeebo/bencode"
)

func TestParseMagnetHexAndBase32(t *testing.T) {
	const hexHash = "c12fe1c06bba254a9dc9f519b335aa7c1367a88a"
	m, err := ParseMagnet("magnet:?xt=urn:btih:C12FE1C06BBA254A9DC9F519B335AA7C1367A88A&dn=Some+Book&tr=udp%3A%2F%2Ftracker.example%3A80")
	if err != nil {
		t.Fatalf("ParseMagnet: %v", err)
	}
	if m.InfoHash != hexHash || m.Name != "Some Book" || len(m.Trackers) != 1 {
		t.Fatalf("unexpected magnet: %#v", m)
	}

	// Base32 of the same 20 bytes.
	b32, err := ParseMagnet("magnet:?xt=urn:btih:YEX6DQDLXISUVHOJ6UM3GNNKPQJWPKEK")
	if err != nil {
		t.Fatalf("ParseMagnet base32: %v", err)
	}
	if b32.InfoHash != hexHash {
		t.Fatalf("base32 hash = %s, want %s", b32.InfoHash, hexHash)
	}
}

func TestParseMagnetRejectsInvalid(t *testing.T) {
	for _, uri := range []string{
		"http://example.com/file.torrent",
		"magnet:?dn=nohash",
		"magnet:?xt=urn:btih:abc",
		"magnet:?xt=urn:btih:zz2fe1c06bba254a9dc9f519b335aa7c1367a88a",
	} {
		if _, err := ParseMagnet(uri); !errors.Is(err, ErrInvalidSource) {
			t.Errorf("ParseMagnet(%q) err = %v, want ErrInvalidSource", uri, err)
		}
	}
}

func TestParseMetainfoHashesRawInfo(t *testing.T) {
	info := map[string]any{
		"name":         "Book",
		"piece length": 16384,
		"pieces":       "01234567890123456789",
		"files": []map[string]any{
			{"length": 100, "path": []string{"01.mp3"}},
			{"length": 250, "path": []string{"02.mp3"}},
		},
	}
	infoBytes, err := bencode.EncodeBytes(info)
	if err != nil {
		t.Fatalf("encode info: %v", err)
	}
	data, err := bencode.EncodeBytes(map[string]any{
		"announce": "udp://tracker.example:80",
		"info":     bencode.RawMessage(infoBytes),
	})
	if err != nil {
		t.Fatalf("encode torrent: %v", err)
	}

	meta, err := ParseMetainfo(data)
	if err != nil {
		t.Fatalf("ParseMetainfo: %v", err)
	}
	sum := sha1.Sum(infoBytes)
	if meta.InfoHash != hex.EncodeToString(sum[:]) {
		t.Fatalf("info hash = %s, want %x", meta.InfoHash, sum)
	}
	if meta.Name != "Book" || meta.Length != 350 || meta.Files != 2 {
		t.Fatalf("unexpected metainfo: %#v", meta)
	}

	hash, err := InfoHash("", data)
	if err != nil || hash != meta.InfoHash {
		t.Fatalf("InfoHash: %s %v", hash, err)
	}
}

func TestParseMetainfoRejectsGarbage(t *testing.T) {
	if _, err := ParseMetainfo([]byte("<html>not a torrent</html>")); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	noInfo, _ := bencode.EncodeBytes(map[string]any{"announce": "x"})
	if _, err := ParseMetainfo(noInfo); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource for missing info, got %v", err)
	}
}
