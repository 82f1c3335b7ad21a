package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"pdrb/internal/pdr"
)

// maxEntrySize bounds the decompressed size of a container entry.
const maxEntrySize = 256 << 20

// Zip packages the payload as the single entry of a deflated zip file.
type Zip struct {
	// Modified is stamped on the entry. Zero leaves the zip default.
	Modified time.Time
}

func (Zip) Name() string      { return "zip" }
func (Zip) Extension() string { return ".zip" }

func (z Zip) Wrap(entryName string, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	fw, err := w.CreateHeader(&zip.FileHeader{
		Name:     entryName,
		Method:   zip.Deflate,
		Modified: z.Modified,
	})
	if err != nil {
		return nil, fmt.Errorf("creating zip entry: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("writing zip entry: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finishing zip: %w", err)
	}
	return buf.Bytes(), nil
}

// Unwrap returns the contents of the first .json entry.
func (Zip) Unwrap(data []byte) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading zip: %w", err)
	}

	for _, f := range r.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(filepath.Ext(f.Name), pdr.JSONExtension) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening zip entry %s: %w", f.Name, err)
		}
		defer rc.Close()

		payload, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
		if err != nil {
			return nil, fmt.Errorf("reading zip entry %s: %w", f.Name, err)
		}
		if len(payload) > maxEntrySize {
			return nil, fmt.Errorf("zip entry %s exceeds %d bytes", f.Name, maxEntrySize)
		}
		return payload, nil
	}

	return nil, errors.New("zip contains no .json entry")
}

var _ pdr.Container = Zip{}

// Containers returns every registered container backend.
func Containers() []pdr.Container {
	return []pdr.Container{Zip{}}
}

// LookupContainer returns the container registered under name.
// "" and "none" select no container and return nil.
func LookupContainer(name string) (pdr.Container, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "none":
		return nil, nil
	}
	for _, c := range Containers() {
		if c.Name() == key {
			return c, nil
		}
	}
	return nil, fmt.Errorf("archive container %q: %w", name, pdr.ErrUnsupportedFeature)
}

// DetectFormat reports the container an upload named fileName is wrapped in.
// A plain .json file returns (nil, true); an unrecognized extension returns (nil, false).
func DetectFormat(fileName string) (pdr.Container, bool) {
	ext := filepath.Ext(fileName)
	if strings.EqualFold(ext, pdr.JSONExtension) {
		return nil, true
	}
	for _, c := range Containers() {
		if strings.EqualFold(ext, c.Extension()) {
			return c, true
		}
	}
	return nil, false
}
