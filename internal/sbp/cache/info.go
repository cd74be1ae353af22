package cache

import (
	"fmt"

	"github.com/greeddj/go-sbp/internal/sbp/codec"
	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// CachedInfo is the record persisted for one cache entry.
type CachedInfo struct {
	Asset        CacheEntry   `cbor:"1,keyasint"`
	Dependencies []CacheEntry `cbor:"2,keyasint"`
	Data         []Payload    `cbor:"3,keyasint"`
}

// Payload is one task-owned piece of cached data.
// Tag and Version belong to the task that wrote it.
type Payload struct {
	Tag     string           `cbor:"1,keyasint"`
	Version int              `cbor:"2,keyasint"`
	Body    codec.RawMessage `cbor:"3,keyasint"`
}

// NewPayload encodes v under tag and version.
func NewPayload(tag string, version int, v any) (Payload, error) {
	body, err := codec.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode %s payload: %w", tag, err)
	}
	return Payload{Tag: tag, Version: version, Body: body}, nil
}

// Decode decodes the payload into v if it carries tag and version.
func (p Payload) Decode(tag string, version int, v any) error {
	if p.Tag != tag || p.Version != version {
		return fmt.Errorf("%w: want %s/v%d, got %s/v%d", helpers.ErrPayloadMismatch, tag, version, p.Tag, p.Version)
	}
	return codec.Unmarshal(p.Body, v)
}

// Decode decodes the payload at index into v.
func (i *CachedInfo) Decode(index int, tag string, version int, v any) error {
	if i == nil || index < 0 || index >= len(i.Data) {
		return fmt.Errorf("%w: no payload %d for %s", helpers.ErrPayloadMismatch, index, tag)
	}
	return i.Data[index].Decode(tag, version, v)
}

type infoFile struct {
	Format int        `cbor:"1,keyasint"`
	Info   CachedInfo `cbor:"2,keyasint"`
}

func encodeInfo(info *CachedInfo) ([]byte, error) {
	return codec.Marshal(&infoFile{Format: helpers.CacheInfoFormat, Info: *info})
}

func decodeInfo(data []byte) (*CachedInfo, error) {
	var file infoFile
	if err := codec.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Format != helpers.CacheInfoFormat {
		return nil, fmt.Errorf("%w: %d", helpers.ErrCacheInfoFormat, file.Format)
	}
	return &file.Info, nil
}
