package archive

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// ErrClosed is returned when an Archive is used after Close
var ErrClosed = errors.New("archive closed")

type entry struct {
	name string
	data []byte
}

// Archive collects named entries for one batch and serializes them as a
// store-only ZIP. It is not safe for concurrent use; a single collector owns it.
type Archive struct {
	entries []entry
	names   map[string]int
	size    int64
	closed  bool
	modTime time.Time
}

// New creates an empty Archive
func New() *Archive {
	return &Archive{
		names:   make(map[string]int),
		modTime: time.Now(),
	}
}

// Add stores data under name and returns the name actually used. A repeated
// name gets a numeric suffix before its extension: abc.png, abc_2.png, abc_3.png.
func (a *Archive) Add(name string, data []byte) string {
	stored := a.uniqueName(name)
	a.entries = append(a.entries, entry{name: stored, data: data})
	a.size += int64(len(data))
	return stored
}

func (a *Archive) uniqueName(name string) string {
	n := a.names[name]
	a.names[name] = n + 1
	if n == 0 {
		return name
	}

	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for i := n + 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", base, i, ext)
		if _, taken := a.names[candidate]; !taken {
			a.names[candidate] = 1
			return candidate
		}
	}
}

// Len returns the number of entries
func (a *Archive) Len() int {
	return len(a.entries)
}

// Size returns the total uncompressed payload bytes
func (a *Archive) Size() int64 {
	return a.size
}

// Close serializes the entries as a store-only ZIP and drops them, so only
// the returned buffer stays alive.
func (a *Archive) Close() ([]byte, error) {
	if a.closed {
		return nil, ErrClosed
	}
	a.closed = true
	defer a.release()

	var buf bytes.Buffer
	buf.Grow(int(a.size) + len(a.entries)*128)
	zw := zip.NewWriter(&buf)

	for _, e := range a.entries {
		header := &zip.FileHeader{
			Name:     e.name,
			Method:   zip.Store,
			Modified: a.modTime,
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("create entry %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.data); err != nil {
			return nil, fmt.Errorf("write entry %s: %w", e.name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize zip: %w", err)
	}

	return buf.Bytes(), nil
}

func (a *Archive) release() {
	a.entries = nil
	a.names = nil
	a.size = 0
}

// DataURI encodes a serialized archive as a base64 data URI
func DataURI(payload []byte) string {
	return "data:application/zip;base64," + base64.StdEncoding.EncodeToString(payload)
}
