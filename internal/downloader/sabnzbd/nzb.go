package sabnzbd

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"slices"
	"strings"
)

var errInvalidNZB = errors.New("invalid nzb")

// NZB is the parsed subset of an NZB document.
type NZB struct {
	Title    string
	Files    int
	Segments int
	Bytes    int64
	// Digest is derived from the sorted article message ids, so the same
	// release fetched through different indexers yields the same value.
	Digest string
}

type nzbDocument struct {
	XMLName xml.Name  `xml:"nzb"`
	Meta    []nzbMeta `xml:"head>meta"`
	Files   []nzbFile `xml:"file"`
}

type nzbMeta struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type nzbFile struct {
	Subject  string       `xml:"subject,attr"`
	Segments []nzbSegment `xml:"segments>segment"`
}

type nzbSegment struct {
	Bytes     int64  `xml:"bytes,attr"`
	Number    int    `xml:"number,attr"`
	MessageID string `xml:",chardata"`
}

// ParseNZB decodes an NZB document and computes its digest.
func ParseNZB(data []byte) (NZB, error) {
	var doc nzbDocument
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	if err := dec.Decode(&doc); err != nil {
		return NZB{}, errors.Join(errInvalidNZB, err)
	}
	if len(doc.Files) == 0 {
		return NZB{}, errors.Join(errInvalidNZB, errors.New("no files"))
	}

	out := NZB{Files: len(doc.Files)}
	for _, meta := range doc.Meta {
		if strings.EqualFold(meta.Type, "title") || strings.EqualFold(meta.Type, "name") {
			out.Title = strings.TrimSpace(meta.Value)
			break
		}
	}
	var ids []string
	for _, file := range doc.Files {
		for _, seg := range file.Segments {
			id := strings.Trim(strings.TrimSpace(seg.MessageID), "<>")
			if id == "" {
				continue
			}
			ids = append(ids, id)
			out.Bytes += seg.Bytes
		}
	}
	if len(ids) == 0 {
		return NZB{}, errors.Join(errInvalidNZB, errors.New("no segments"))
	}
	out.Segments = len(ids)
	slices.Sort(ids)
	h := sha1.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{'\n'})
	}
	out.Digest = hex.EncodeToString(h.Sum(nil))[:16]
	return out, nil
}
