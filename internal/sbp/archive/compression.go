// Package archive packs resource files into bundle archives and cache directories into tar.gz packs.
package archive

import (
	"fmt"
	"strings"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Compression is the compression mode of a bundle archive.
// Values are stored in archive headers and must not be renumbered.
type Compression uint8

const (
	// Uncompressed stores blocks as is.
	Uncompressed Compression = iota
	// LZ4 compresses fixed-size blocks with LZ4.
	LZ4
	// LZ4HC compresses fixed-size blocks with high compression LZ4.
	LZ4HC
	// Gzip compresses the whole payload as one gzip stream.
	Gzip
	// Zstd compresses fixed-size blocks with zstd.
	Zstd
)

var compressionNames = map[Compression]string{
	Uncompressed: "uncompressed",
	LZ4:          "lz4",
	LZ4HC:        "lz4hc",
	Gzip:         "gzip",
	Zstd:         "zstd",
}

// String implements fmt.Stringer.
func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression parses a compression mode name.
func ParseCompression(name string) (Compression, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "none":
		return Uncompressed, nil
	case "lzma":
		return Zstd, nil
	}
	for c, n := range compressionNames {
		if n == name {
			return c, nil
		}
	}
	return Uncompressed, fmt.Errorf("%w: %q", helpers.ErrUnknownCompression, name)
}

// MarshalText implements encoding.TextMarshaler.
func (c Compression) MarshalText() ([]byte, error) {
	if _, ok := compressionNames[c]; !ok {
		return nil, fmt.Errorf("%w: %d", helpers.ErrUnknownCompression, uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Compression) UnmarshalText(text []byte) error {
	parsed, err := ParseCompression(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
