package archive

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
)

const (
	bundleSignature = "SBPBundle\x00"
	bundleFormat    = uint16(1)
	blockSize       = 128 << 10

	gzipBlockSize   = 1 << 20
	gzipConcurrency = 4
)

// Entry is one resource file placed into a bundle archive.
type Entry struct {
	// Name is the name of the file inside the archive.
	Name string
	// Path is where the file lives on disk.
	Path string
}

// Info describes a bundle archive.
type Info struct {
	Compression Compression
	CRC         uint32
	Entries     []EntryInfo
}

// EntryInfo is one file listed in a bundle archive.
type EntryInfo struct {
	Name string
	Size uint64
}

type block struct {
	uncompressed uint32
	compressed   uint32
	stored       bool
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// ArchiveAndCompress writes entries in order into one archive at outPath and
// returns the CRC32 of their uncompressed concatenation.
// The archive appears at outPath only once it is complete.
func ArchiveAndCompress(entries []Entry, outPath string, compression Compression) (uint32, error) {
	if len(entries) == 0 {
		return 0, helpers.ErrBundleHasNoFiles
	}
	if _, ok := compressionNames[compression]; !ok {
		return 0, fmt.Errorf("%w: %d", helpers.ErrUnknownCompression, uint8(compression))
	}

	var payload bytes.Buffer
	infos := make([]EntryInfo, 0, len(entries))
	crc := crc32.NewIEEE()
	for _, entry := range entries {
		//nolint:gosec // entry paths are resource files produced by the write stage.
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return 0, fmt.Errorf("read resource file %s: %w", entry.Name, err)
		}
		_, _ = crc.Write(data)
		_, _ = payload.Write(data)
		infos = append(infos, EntryInfo{Name: entry.Name, Size: uint64(len(data))})
	}

	blocks, body, err := compressPayload(payload.Bytes(), compression)
	if err != nil {
		return 0, err
	}
	header, err := encodeHeader(compression, crc.Sum32(), infos, blocks)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(outPath), helpers.DirMod); err != nil {
		return 0, err
	}
	if err := helpers.WriteFileAtomic(outPath, append(header, body...)); err != nil {
		return 0, fmt.Errorf("write bundle archive %s: %w", outPath, err)
	}
	return crc.Sum32(), nil
}

func compressPayload(data []byte, compression Compression) ([]block, []byte, error) {
	if compression == Gzip {
		return compressGzip(data)
	}
	var blocks []block
	var body bytes.Buffer
	for start := 0; start < len(data); start += blockSize {
		end := min(start+blockSize, len(data))
		chunk := data[start:end]
		compressed, err := compressBlock(chunk, compression)
		if err != nil {
			return nil, nil, err
		}
		stored := compressed == nil
		if stored {
			compressed = chunk
		}
		//nolint:gosec // block sizes are bounded by blockSize.
		blocks = append(blocks, block{uncompressed: uint32(len(chunk)), compressed: uint32(len(compressed)), stored: stored})
		_, _ = body.Write(compressed)
	}
	return blocks, body.Bytes(), nil
}

// compressBlock returns nil when the block should be stored raw.
func compressBlock(chunk []byte, compression Compression) ([]byte, error) {
	var (
		out     []byte
		written int
		err     error
	)
	switch compression {
	case Uncompressed:
		return nil, nil
	case LZ4:
		out = make([]byte, lz4.CompressBlockBound(len(chunk)))
		written, err = lz4.CompressBlock(chunk, out, nil)
	case LZ4HC:
		out = make([]byte, lz4.CompressBlockBound(len(chunk)))
		written, err = lz4.CompressBlockHC(chunk, out, lz4.Level9, nil, nil)
	case Zstd:
		out = zstdEncoder.EncodeAll(chunk, nil)
		written = len(out)
	default:
		return nil, fmt.Errorf("%w: %d", helpers.ErrUnknownCompression, uint8(compression))
	}
	if err != nil {
		return nil, fmt.Errorf("%s compress: %w", compression, err)
	}
	if written == 0 || written >= len(chunk) {
		return nil, nil
	}
	return out[:written], nil
}

func compressGzip(data []byte) ([]block, []byte, error) {
	var body bytes.Buffer
	writer := pgzip.NewWriter(&body)
	if err := writer.SetConcurrency(gzipBlockSize, gzipConcurrency); err != nil {
		return nil, nil, err
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, nil, err
	}
	if uint64(len(data)) > math.MaxUint32 || uint64(body.Len()) > math.MaxUint32 {
		return nil, nil, fmt.Errorf("%w: %d bytes", helpers.ErrArchiveExceedsMaxSize, len(data))
	}
	//nolint:gosec // bounded above.
	return []block{{uncompressed: uint32(len(data)), compressed: uint32(body.Len())}}, body.Bytes(), nil
}

func encodeHeader(compression Compression, crc uint32, entries []EntryInfo, blocks []block) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(bundleSignature)
	be := binary.BigEndian
	buf.Write(be.AppendUint16(nil, bundleFormat))
	buf.WriteByte(byte(compression))
	buf.Write(be.AppendUint32(nil, crc))
	//nolint:gosec // entry and block counts are bounded by the bundle size.
	buf.Write(be.AppendUint32(nil, uint32(len(entries))))
	for _, entry := range entries {
		if len(entry.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: entry name too long: %s", helpers.ErrBundleArchiveCorrupt, entry.Name)
		}
		//nolint:gosec // bounded above.
		buf.Write(be.AppendUint16(nil, uint16(len(entry.Name))))
		buf.WriteString(entry.Name)
		buf.Write(be.AppendUint64(nil, entry.Size))
	}
	//nolint:gosec // see above.
	buf.Write(be.AppendUint32(nil, uint32(len(blocks))))
	for _, b := range blocks {
		buf.Write(be.AppendUint32(nil, b.uncompressed))
		buf.Write(be.AppendUint32(nil, b.compressed))
		if b.stored {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes(), nil
}

type header struct {
	Info
	blocks []block
}

func decodeHeader(r *bufio.Reader) (*header, error) {
	signature := make([]byte, len(bundleSignature))
	if _, err := io.ReadFull(r, signature); err != nil || string(signature) != bundleSignature {
		return nil, fmt.Errorf("%w: bad signature", helpers.ErrBundleArchiveCorrupt)
	}
	var fixed struct {
		Format      uint16
		Compression uint8
		CRC         uint32
		Entries     uint32
	}
	if err := binary.Read(r, binary.BigEndian, &fixed); err != nil {
		return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
	}
	if fixed.Format != bundleFormat {
		return nil, fmt.Errorf("%w: format %d", helpers.ErrBundleArchiveCorrupt, fixed.Format)
	}
	h := &header{Info: Info{Compression: Compression(fixed.Compression), CRC: fixed.CRC}}
	for range fixed.Entries {
		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(r, name); err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
		}
		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
		}
		h.Entries = append(h.Entries, EntryInfo{Name: string(name), Size: size})
	}
	var blockCount uint32
	if err := binary.Read(r, binary.BigEndian, &blockCount); err != nil {
		return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
	}
	for range blockCount {
		var raw struct {
			Uncompressed uint32
			Compressed   uint32
			Stored       uint8
		}
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
		}
		h.blocks = append(h.blocks, block{uncompressed: raw.Uncompressed, compressed: raw.Compressed, stored: raw.Stored == 1})
	}
	return h, nil
}

// ReadInfo reads the header of the bundle archive at path.
func ReadInfo(path string) (Info, error) {
	//nolint:gosec // path is a bundle archive chosen by the caller.
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	h, err := decodeHeader(bufio.NewReader(f))
	if err != nil {
		return Info{}, err
	}
	return h.Info, nil
}

// Unpack extracts every file of the bundle archive at path into dstDir.
func Unpack(path, dstDir string) (Info, error) {
	//nolint:gosec // path is a bundle archive chosen by the caller.
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer func() {
		_ = f.Close()
	}()
	r := bufio.NewReader(f)
	h, err := decodeHeader(r)
	if err != nil {
		return Info{}, err
	}
	data, err := decompressPayload(r, h)
	if err != nil {
		return Info{}, err
	}
	if crc32.ChecksumIEEE(data) != h.CRC {
		return Info{}, fmt.Errorf("%w: crc mismatch", helpers.ErrBundleArchiveCorrupt)
	}
	var offset uint64
	for _, entry := range h.Entries {
		if offset+entry.Size > uint64(len(data)) {
			return Info{}, fmt.Errorf("%w: entry %s exceeds payload", helpers.ErrBundleArchiveCorrupt, entry.Name)
		}
		relPath, err := sanitizeArchivePath(entry.Name)
		if err != nil {
			return Info{}, err
		}
		if relPath == "" {
			return Info{}, fmt.Errorf("%w: %q", helpers.ErrArchiveEntryHasEmptyName, entry.Name)
		}
		target := filepath.Join(dstDir, relPath)
		if err := os.MkdirAll(filepath.Dir(target), helpers.DirMod); err != nil {
			return Info{}, err
		}
		if err := helpers.WriteFileAtomic(target, data[offset:offset+entry.Size]); err != nil {
			return Info{}, err
		}
		offset += entry.Size
	}
	return h.Info, nil
}

func decompressPayload(r io.Reader, h *header) ([]byte, error) {
	var total uint64
	for _, b := range h.blocks {
		total += uint64(b.uncompressed)
	}
	if total > uint64(helpers.ArchiveMaxTotalSize) {
		return nil, fmt.Errorf("%w: %d bytes", helpers.ErrArchiveExceedsMaxSize, total)
	}
	out := make([]byte, 0, total)
	for _, b := range h.blocks {
		compressed := make([]byte, b.compressed)
		if _, err := io.ReadFull(r, compressed); err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
		}
		plain, err := decompressBlock(compressed, b, h.Compression)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", helpers.ErrBundleArchiveCorrupt, err)
		}
		out = append(out, plain...)
	}
	return out, nil
}

func decompressBlock(compressed []byte, b block, compression Compression) ([]byte, error) {
	if b.stored || compression == Uncompressed {
		return compressed, nil
	}
	var (
		plain []byte
		err   error
	)
	switch compression {
	case LZ4, LZ4HC:
		plain = make([]byte, b.uncompressed)
		var read int
		read, err = lz4.UncompressBlock(compressed, plain)
		plain = plain[:read]
	case Zstd:
		plain, err = zstdDecoder.DecodeAll(compressed, make([]byte, 0, b.uncompressed))
	case Gzip:
		var reader *pgzip.Reader
		reader, err = pgzip.NewReader(bytes.NewReader(compressed))
		if err == nil {
			plain, err = io.ReadAll(io.LimitReader(reader, int64(b.uncompressed)+1))
			_ = reader.Close()
		}
	default:
		return nil, fmt.Errorf("%w: %d", helpers.ErrUnknownCompression, uint8(compression))
	}
	if err != nil {
		return nil, err
	}
	if len(plain) != int(b.uncompressed) {
		return nil, fmt.Errorf("block size %d, expected %d", len(plain), b.uncompressed)
	}
	return plain, nil
}
