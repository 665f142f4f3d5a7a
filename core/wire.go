package core

// wire.go - MessagePack framing for everything the core puts on or takes
// off a link. The page request and response tuples must stay bit-exact
// with existing peers; the resource framing is consumed by this module's
// own transports and is kept behind the encode/parse pairs below so a
// wire-compatible transport can swap it in one place.

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/tinylib/msgp/msgp"
)

// PathHash returns the 16-byte request hash for a page path:
// sha256(path)[:16].
func PathHash(path string) [16]byte {
	sum := sha256.Sum256([]byte(path))
	var out [16]byte
	copy(out[:], sum[:16])
	return out
}

// EncodePageRequest packs a page request tuple:
// [timestamp, path_hash, form_data|nil]. Form keys are written in sorted
// order so identical requests encode identically.
func EncodePageRequest(timestamp float64, pathHash [16]byte, formData map[string]string) []byte {
	b := make([]byte, 0, 32)
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendFloat64(b, timestamp)
	b = msgp.AppendBytes(b, pathHash[:])
	if len(formData) == 0 {
		b = msgp.AppendNil(b)
		return b
	}
	keys := make([]string, 0, len(formData))
	for k := range formData {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b = msgp.AppendMapHeader(b, uint32(len(keys)))
	for _, k := range keys {
		b = msgp.AppendString(b, k)
		b = msgp.AppendString(b, formData[k])
	}
	return b
}

// ParsePageRequest unpacks a page request tuple. The returned form map is
// nil when the request carried none.
func ParsePageRequest(data []byte) (timestamp float64, pathHash [16]byte, formData map[string]string, err error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return 0, pathHash, nil, fmt.Errorf("request header: %w", err)
	}
	if sz < 2 {
		return 0, pathHash, nil, fmt.Errorf("request tuple too short: %d elements", sz)
	}
	timestamp, o, err = msgp.ReadFloat64Bytes(o)
	if err != nil {
		return 0, pathHash, nil, fmt.Errorf("request timestamp: %w", err)
	}
	raw, o, err := msgp.ReadBytesBytes(o, nil)
	if err != nil {
		return 0, pathHash, nil, fmt.Errorf("request path hash: %w", err)
	}
	if len(raw) != len(pathHash) {
		return 0, pathHash, nil, fmt.Errorf("request path hash: expected %d bytes, got %d", len(pathHash), len(raw))
	}
	copy(pathHash[:], raw)
	if sz < 3 || msgp.IsNil(o) {
		return timestamp, pathHash, nil, nil
	}
	n, o, err := msgp.ReadMapHeaderBytes(o)
	if err != nil {
		return 0, pathHash, nil, fmt.Errorf("request form data: %w", err)
	}
	formData = make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		var k, v string
		k, o, err = msgp.ReadStringBytes(o)
		if err != nil {
			return 0, pathHash, nil, fmt.Errorf("request form key: %w", err)
		}
		v, o, err = msgp.ReadStringBytes(o)
		if err != nil {
			return 0, pathHash, nil, fmt.Errorf("request form value: %w", err)
		}
		formData[k] = v
	}
	return timestamp, pathHash, formData, nil
}

// EncodeOneShotResponse packs a one-shot page response tuple:
// [timestamp, request_hash, content|nil]. A nil content means the server
// has nothing for the requested path.
func EncodeOneShotResponse(timestamp float64, requestHash []byte, content []byte) []byte {
	b := make([]byte, 0, 32+len(content))
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendFloat64(b, timestamp)
	b = msgp.AppendBytes(b, requestHash)
	if content == nil {
		b = msgp.AppendNil(b)
	} else {
		b = msgp.AppendBytes(b, content)
	}
	return b
}

// ParseOneShotResponse unpacks a one-shot response and returns the page
// content. The error messages here are caller-facing and must not change:
// they are the terminal failure strings of a fetch.
func ParseOneShotResponse(data []byte) ([]byte, error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	if sz < 3 {
		return nil, fmt.Errorf("Failed to parse response: tuple has %d elements", sz)
	}
	if _, o, err = msgp.ReadFloat64Bytes(o); err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	if _, o, err = msgp.ReadBytesBytes(o, nil); err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	if msgp.IsNil(o) {
		return nil, errors.New("No content in response")
	}
	content, err := readBinOrString(o)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	return validatePageContent(content)
}

// EncodeResourceBlob packs the assembled form of a resource-delivered
// response: [request_hash, content].
func EncodeResourceBlob(requestHash []byte, content []byte) []byte {
	b := make([]byte, 0, 24+len(content))
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendBytes(b, requestHash)
	b = msgp.AppendBytes(b, content)
	return b
}

// ParseResourceBlob unpacks an assembled resource and returns the page
// content. Error strings are caller-facing, as in ParseOneShotResponse.
func ParseResourceBlob(data []byte) ([]byte, error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	if sz < 2 {
		return nil, fmt.Errorf("Failed to parse response: tuple has %d elements", sz)
	}
	if _, o, err = msgp.ReadBytesBytes(o, nil); err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	content, err := readBinOrString(o)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse response: %v", err)
	}
	return validatePageContent(content)
}

func validatePageContent(content []byte) ([]byte, error) {
	if !utf8.Valid(content) {
		idx := 0
		for idx < len(content) {
			r, size := utf8.DecodeRune(content[idx:])
			if r == utf8.RuneError && size == 1 {
				break
			}
			idx += size
		}
		return nil, fmt.Errorf("Invalid UTF-8: invalid byte at index %d", idx)
	}
	return content, nil
}

func readBinOrString(b []byte) ([]byte, error) {
	switch msgp.NextType(b) {
	case msgp.BinType:
		v, _, err := msgp.ReadBytesBytes(b, nil)
		return v, err
	case msgp.StrType:
		s, _, err := msgp.ReadStringBytes(b)
		return []byte(s), err
	default:
		return nil, fmt.Errorf("unexpected content type %v", msgp.NextType(b))
	}
}

// Resource framing. An advertisement announces a chunked transfer, parts
// carry the chunks, a request enumerates missing part indices and a proof
// closes the transfer. All payloads travel encrypted under the link key;
// these pairs operate on the decrypted bytes.

// EncodeResourceAdv packs a resource advertisement:
// [content_hash, total_parts, total_size].
func EncodeResourceAdv(contentHash [32]byte, totalParts, totalSize uint32) []byte {
	b := make([]byte, 0, 48)
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendBytes(b, contentHash[:])
	b = msgp.AppendUint32(b, totalParts)
	b = msgp.AppendUint32(b, totalSize)
	return b
}

// ParseResourceAdv unpacks a resource advertisement.
func ParseResourceAdv(data []byte) (contentHash [32]byte, totalParts, totalSize uint32, err error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return contentHash, 0, 0, fmt.Errorf("resource adv header: %w", err)
	}
	if sz < 3 {
		return contentHash, 0, 0, fmt.Errorf("resource adv tuple too short: %d elements", sz)
	}
	raw, o, err := msgp.ReadBytesBytes(o, nil)
	if err != nil {
		return contentHash, 0, 0, fmt.Errorf("resource adv hash: %w", err)
	}
	if len(raw) != len(contentHash) {
		return contentHash, 0, 0, fmt.Errorf("resource adv hash: expected %d bytes, got %d", len(contentHash), len(raw))
	}
	copy(contentHash[:], raw)
	if totalParts, o, err = msgp.ReadUint32Bytes(o); err != nil {
		return contentHash, 0, 0, fmt.Errorf("resource adv parts: %w", err)
	}
	if totalSize, _, err = msgp.ReadUint32Bytes(o); err != nil {
		return contentHash, 0, 0, fmt.Errorf("resource adv size: %w", err)
	}
	return contentHash, totalParts, totalSize, nil
}

// EncodeResourcePart packs one resource part:
// [content_hash, part_index, payload].
func EncodeResourcePart(contentHash [32]byte, index uint32, payload []byte) []byte {
	b := make([]byte, 0, 48+len(payload))
	b = msgp.AppendArrayHeader(b, 3)
	b = msgp.AppendBytes(b, contentHash[:])
	b = msgp.AppendUint32(b, index)
	b = msgp.AppendBytes(b, payload)
	return b
}

// ParseResourcePart unpacks one resource part.
func ParseResourcePart(data []byte) (contentHash [32]byte, index uint32, payload []byte, err error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return contentHash, 0, nil, fmt.Errorf("resource part header: %w", err)
	}
	if sz < 3 {
		return contentHash, 0, nil, fmt.Errorf("resource part tuple too short: %d elements", sz)
	}
	raw, o, err := msgp.ReadBytesBytes(o, nil)
	if err != nil {
		return contentHash, 0, nil, fmt.Errorf("resource part hash: %w", err)
	}
	if len(raw) != len(contentHash) {
		return contentHash, 0, nil, fmt.Errorf("resource part hash: expected %d bytes, got %d", len(contentHash), len(raw))
	}
	copy(contentHash[:], raw)
	if index, o, err = msgp.ReadUint32Bytes(o); err != nil {
		return contentHash, 0, nil, fmt.Errorf("resource part index: %w", err)
	}
	if payload, _, err = msgp.ReadBytesBytes(o, nil); err != nil {
		return contentHash, 0, nil, fmt.Errorf("resource part payload: %w", err)
	}
	return contentHash, index, payload, nil
}

// EncodeResourceRequest packs a request for missing parts:
// [content_hash, [index, ...]].
func EncodeResourceRequest(contentHash [32]byte, missing []uint32) []byte {
	b := make([]byte, 0, 48+4*len(missing))
	b = msgp.AppendArrayHeader(b, 2)
	b = msgp.AppendBytes(b, contentHash[:])
	b = msgp.AppendArrayHeader(b, uint32(len(missing)))
	for _, idx := range missing {
		b = msgp.AppendUint32(b, idx)
	}
	return b
}

// ParseResourceRequest unpacks a request for missing parts.
func ParseResourceRequest(data []byte) (contentHash [32]byte, missing []uint32, err error) {
	sz, o, err := msgp.ReadArrayHeaderBytes(data)
	if err != nil {
		return contentHash, nil, fmt.Errorf("resource request header: %w", err)
	}
	if sz < 2 {
		return contentHash, nil, fmt.Errorf("resource request tuple too short: %d elements", sz)
	}
	raw, o, err := msgp.ReadBytesBytes(o, nil)
	if err != nil {
		return contentHash, nil, fmt.Errorf("resource request hash: %w", err)
	}
	if len(raw) != len(contentHash) {
		return contentHash, nil, fmt.Errorf("resource request hash: expected %d bytes, got %d", len(contentHash), len(raw))
	}
	copy(contentHash[:], raw)
	n, o, err := msgp.ReadArrayHeaderBytes(o)
	if err != nil {
		return contentHash, nil, fmt.Errorf("resource request indices: %w", err)
	}
	missing = make([]uint32, 0, n)
	for i := uint32(0); i < n; i++ {
		var idx uint32
		idx, o, err = msgp.ReadUint32Bytes(o)
		if err != nil {
			return contentHash, nil, fmt.Errorf("resource request index: %w", err)
		}
		missing = append(missing, idx)
	}
	return contentHash, missing, nil
}

// EncodeDisplayName packs a display name the way node announces carry it:
// a one-element array holding the name string.
func EncodeDisplayName(name string) []byte {
	b := make([]byte, 0, 2+len(name))
	b = msgp.AppendArrayHeader(b, 1)
	b = msgp.AppendString(b, name)
	return b
}

// ParseDisplayName decodes announce app_data into a display name. Empty
// app_data means no name. A MessagePack array header means the name is the
// array's first element (byte string or string, possibly nil); anything
// else is taken as a raw UTF-8 name.
func ParseDisplayName(appData []byte) (string, bool) {
	if len(appData) == 0 {
		return "", false
	}
	first := appData[0]
	if (first >= 0x90 && first <= 0x9f) || first == 0xdc {
		sz, o, err := msgp.ReadArrayHeaderBytes(appData)
		if err != nil || sz == 0 {
			return "", false
		}
		switch msgp.NextType(o) {
		case msgp.BinType:
			raw, _, err := msgp.ReadBytesBytes(o, nil)
			if err != nil || !utf8.Valid(raw) {
				return "", false
			}
			return string(raw), true
		case msgp.StrType:
			s, _, err := msgp.ReadStringBytes(o)
			if err != nil || !utf8.ValidString(s) {
				return "", false
			}
			return s, true
		default:
			return "", false
		}
	}
	if !utf8.Valid(appData) {
		return "", false
	}
	return string(appData), true
}
