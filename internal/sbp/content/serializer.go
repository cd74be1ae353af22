package content

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

const (
	serializedSignature = "SBPSF\x00\x00\x00"
	serializedFormat    = uint32(1)
	headerAlignment     = 64
	objectAlignment     = 16
	missingFileIndex    = math.MaxUint32

	// StreamSuffix is appended to a serialized file name to name its stream resource file.
	StreamSuffix = ".resS"
)

var errNoCommand = errors.New("write operation has no command")

type syntheticObject struct {
	id      ObjectIdentifier
	typ     TypeInfo
	payload []byte
}

type fileRequest struct {
	src      ObjectSource
	dir      string
	settings BuildSettings
	usage    GlobalUsage
	cmd      *WriteCommand
	tags     *UsageSet
	refs     *ReferenceMap
	extra    []syntheticObject
}

type encodedObject struct {
	id     ObjectIdentifier
	lfid   int64
	typ    TypeInfo
	body   []byte
	stream []byte
}

// writeSerializedFile lays out a header followed by 16-byte aligned objects.
// Object streams go into a companion non-serialized file.
func writeSerializedFile(req fileRequest) (WriteResult, error) {
	if req.cmd == nil {
		return WriteResult{}, errNoCommand
	}
	alias := req.cmd.InternalName
	fileName := req.cmd.FileName
	if fileName == "" {
		fileName = alias
	}

	var externals []string
	externalIndex := make(map[string]uint32)
	resolve := func(ref ObjectIdentifier) (uint32, int64) {
		loc, ok := req.refs.Lookup(ref)
		if !ok {
			return missingFileIndex, 0
		}
		if loc.InternalFileName == alias {
			return 0, loc.LocalID
		}
		idx, ok := externalIndex[loc.InternalFileName]
		if !ok {
			externals = append(externals, loc.InternalFileName)
			//nolint:gosec // external count is bounded by the object count.
			idx = uint32(len(externals))
			externalIndex[loc.InternalFileName] = idx
		}
		return idx, loc.LocalID
	}

	objects := make([]encodedObject, 0, len(req.cmd.SerializeObjects)+len(req.extra))
	for _, info := range req.cmd.SerializeObjects {
		data, err := req.src.ObjectData(info.SerializationObject)
		if err != nil {
			return WriteResult{}, fmt.Errorf("serialize %s into %s: %w", info.SerializationObject, alias, err)
		}
		var body bytes.Buffer
		writeU32(&body, uint32(req.tags.Get(info.SerializationObject)))
		writeBytes32(&body, data.Payload)
		//nolint:gosec // reference counts are small.
		writeU32(&body, uint32(len(data.References)))
		for _, ref := range data.References {
			fileIdx, lfid := resolve(ref)
			writeU32(&body, fileIdx)
			writeI64(&body, lfid)
		}
		objects = append(objects, encodedObject{
			id:     info.SerializationObject,
			lfid:   info.SerializationIndex,
			typ:    data.Type,
			body:   body.Bytes(),
			stream: data.Stream,
		})
	}
	for _, extra := range req.extra {
		var body bytes.Buffer
		writeU32(&body, 0)
		writeBytes32(&body, extra.payload)
		writeU32(&body, 0)
		objects = append(objects, encodedObject{id: extra.id, lfid: extra.id.LocalIdentifierInFile, typ: extra.typ, body: body.Bytes()})
	}

	headerLen := align(len(encodeSerializedHeader(req, objects, nil, externals)), headerAlignment)
	offsets := make([]uint64, len(objects))
	cursor := headerLen
	for i, obj := range objects {
		offsets[i] = uint64(cursor)
		cursor = align(cursor+len(obj.body), objectAlignment)
	}

	var file bytes.Buffer
	file.Write(encodeSerializedHeader(req, objects, offsets, externals))
	pad(&file, headerLen)
	for i, obj := range objects {
		pad(&file, int(offsets[i]))
		file.Write(obj.body)
	}
	pad(&file, cursor)

	streamAlias := alias + StreamSuffix
	var streams bytes.Buffer
	result := WriteResult{ExternalFileReferences: externals}
	for i, obj := range objects {
		info := ObjectSerializedInfo{
			SerializedObject: obj.id,
			Header:           SerializedLocation{FileName: alias, Offset: offsets[i], Size: uint64(len(obj.body))},
		}
		if len(obj.stream) > 0 {
			pad(&streams, align(streams.Len(), objectAlignment))
			info.RawData = SerializedLocation{FileName: streamAlias, Offset: uint64(streams.Len()), Size: uint64(len(obj.stream))}
			streams.Write(obj.stream)
		}
		result.SerializedObjects = append(result.SerializedObjects, info)
		if obj.typ.Name != "" && !slices.Contains(result.IncludedTypes, obj.typ) {
			result.IncludedTypes = append(result.IncludedTypes, obj.typ)
		}
	}
	slices.SortFunc(result.IncludedTypes, TypeInfo.Compare)

	if err := os.MkdirAll(req.dir, helpers.DirMod); err != nil {
		return WriteResult{}, err
	}
	path := filepath.Join(req.dir, fileName)
	if err := helpers.WriteFileAtomic(path, file.Bytes()); err != nil {
		return WriteResult{}, err
	}
	result.ResourceFiles = append(result.ResourceFiles, ResourceFile{FileName: path, FileAlias: alias, SerializedFile: true})
	if streams.Len() > 0 {
		streamPath := path + StreamSuffix
		if err := helpers.WriteFileAtomic(streamPath, streams.Bytes()); err != nil {
			return WriteResult{}, err
		}
		result.ResourceFiles = append(result.ResourceFiles, ResourceFile{FileName: streamPath, FileAlias: streamAlias})
	}
	return result, nil
}

// encodeSerializedHeader encodes the header. A nil offsets slice encodes zeros of the same width.
func encodeSerializedHeader(req fileRequest, objects []encodedObject, offsets []uint64, externals []string) []byte {
	var buf bytes.Buffer
	buf.WriteString(serializedSignature)
	writeU32(&buf, serializedFormat)
	writeString16(&buf, req.settings.EngineVersion)
	writeString16(&buf, req.settings.Target)
	writeU32(&buf, req.usage.LightmapModesUsed)
	writeU32(&buf, req.usage.FogModesUsed)
	flags := byte(0)
	for i, set := range []bool{req.usage.DynamicLightmapsUsed, req.usage.ShadowMasksUsed, req.usage.SubtractiveUsed, req.settings.DisableTypeTree} {
		if set {
			flags |= 1 << i
		}
	}
	buf.WriteByte(flags)
	//nolint:gosec // object counts are bounded by the command size.
	writeU32(&buf, uint32(len(objects)))
	for i, obj := range objects {
		writeI64(&buf, obj.lfid)
		if req.settings.DisableTypeTree {
			writeString16(&buf, "")
			writeString16(&buf, "")
		} else {
			writeString16(&buf, obj.typ.Assembly)
			writeString16(&buf, obj.typ.Name)
		}
		var offset uint64
		if offsets != nil {
			offset = offsets[i]
		}
		writeU64(&buf, offset)
		writeU64(&buf, uint64(len(obj.body)))
	}
	//nolint:gosec // see above.
	writeU32(&buf, uint32(len(externals)))
	for _, name := range externals {
		writeString16(&buf, name)
	}
	return buf.Bytes()
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}

func pad(buf *bytes.Buffer, to int) {
	for buf.Len() < to {
		buf.WriteByte(0)
	}
}

func writeU32(buf *bytes.Buffer, v uint32) {
	buf.Write(binary.LittleEndian.AppendUint32(nil, v))
}

func writeU64(buf *bytes.Buffer, v uint64) {
	buf.Write(binary.LittleEndian.AppendUint64(nil, v))
}

func writeI64(buf *bytes.Buffer, v int64) {
	writeU64(buf, uint64(v)) //nolint:gosec // two's complement round trip.
}

func writeBytes32(buf *bytes.Buffer, p []byte) {
	//nolint:gosec // object payloads are far below 4 GiB.
	writeU32(buf, uint32(len(p)))
	buf.Write(p)
}

func writeString16(buf *bytes.Buffer, s string) {
	if len(s) > math.MaxUint16 {
		s = s[:math.MaxUint16]
	}
	buf.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(s)))) //nolint:gosec // truncated above.
	buf.WriteString(s)
}
