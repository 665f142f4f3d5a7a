package core

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/tinylib/msgp/msgp"
)

func TestPageRequestGoldenEncoding(t *testing.T) {
	// [f64, bin16, nil] must pack to exactly 29 bytes:
	// fixarray(3) + float64 + bin8 header + 16 + nil.
	pathHash := PathHash("/page/index.mu")
	packed := EncodePageRequest(1736541605.123, pathHash, nil)
	if len(packed) != 29 {
		t.Fatalf("packed length = %d, want 29", len(packed))
	}
	if packed[0] != 0x93 {
		t.Fatalf("leading byte = %#x, want fixarray(3)", packed[0])
	}
	if packed[1] != 0xcb {
		t.Fatalf("timestamp marker = %#x, want float64", packed[1])
	}
	if packed[10] != 0xc4 || packed[11] != 0x10 {
		t.Fatalf("path hash marker = %#x %#x, want bin8(16)", packed[10], packed[11])
	}
	if packed[len(packed)-1] != 0xc0 {
		t.Fatalf("trailing byte = %#x, want nil", packed[len(packed)-1])
	}
	if !bytes.Equal(packed[12:28], pathHash[:]) {
		t.Fatal("path hash bytes differ")
	}
}

func TestPageRequestRoundTrip(t *testing.T) {
	form := map[string]string{"field_name": "Joe", "var_action": "submit"}
	packed := EncodePageRequest(1700000000.5, PathHash("/guestbook.mu"), form)

	ts, pathHash, gotForm, err := ParsePageRequest(packed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ts != 1700000000.5 {
		t.Fatalf("timestamp = %v", ts)
	}
	if pathHash != PathHash("/guestbook.mu") {
		t.Fatal("path hash does not round-trip")
	}
	if len(gotForm) != 2 || gotForm["field_name"] != "Joe" || gotForm["var_action"] != "submit" {
		t.Fatalf("form = %v", gotForm)
	}

	// Identical requests must encode identically regardless of map
	// iteration order.
	if !bytes.Equal(packed, EncodePageRequest(1700000000.5, PathHash("/guestbook.mu"), form)) {
		t.Fatal("encoding is not deterministic")
	}
}

func TestPageRequestWithoutFormHasNilMarker(t *testing.T) {
	packed := EncodePageRequest(1.0, PathHash("/a"), map[string]string{})
	_, _, form, err := ParsePageRequest(packed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if form != nil {
		t.Fatalf("empty form should encode as nil, parsed %v", form)
	}
}

func TestOneShotResponseNilContent(t *testing.T) {
	packed := EncodeOneShotResponse(1700000000.0, []byte{1, 2, 3}, nil)
	_, err := ParseOneShotResponse(packed)
	if err == nil || err.Error() != "No content in response" {
		t.Fatalf("err = %v", err)
	}
}

func TestOneShotResponseContent(t *testing.T) {
	pathHash := PathHash("/index.mu")
	packed := EncodeOneShotResponse(1700000000.0, pathHash[:], []byte("Hello"))
	content, err := ParseOneShotResponse(packed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(content) != "Hello" {
		t.Fatalf("content = %q", content)
	}
}

func TestOneShotResponseStringContent(t *testing.T) {
	// Some peers pack page bodies in str format rather than bin.
	b := msgp.AppendArrayHeader(nil, 3)
	b = msgp.AppendFloat64(b, 1700000000.0)
	b = msgp.AppendBytes(b, []byte{1, 2, 3})
	b = msgp.AppendString(b, "str body")
	content, err := ParseOneShotResponse(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(content) != "str body" {
		t.Fatalf("content = %q", content)
	}
}

func TestOneShotResponseMalformed(t *testing.T) {
	_, err := ParseOneShotResponse([]byte{0x01, 0x02})
	if err == nil || !strings.HasPrefix(err.Error(), "Failed to parse response:") {
		t.Fatalf("err = %v", err)
	}
}

func TestOneShotResponseInvalidUTF8(t *testing.T) {
	packed := EncodeOneShotResponse(1.0, []byte{1}, []byte{0xff, 0xfe, 0xfd})
	_, err := ParseOneShotResponse(packed)
	if err == nil || !strings.HasPrefix(err.Error(), "Invalid UTF-8:") {
		t.Fatalf("err = %v", err)
	}
}

func TestResourceBlobRoundTrip(t *testing.T) {
	pathHash := PathHash("/big.mu")
	blob := EncodeResourceBlob(pathHash[:], []byte("big page body"))
	content, err := ParseResourceBlob(blob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(content) != "big page body" {
		t.Fatalf("content = %q", content)
	}
}

func TestResourceFramingRoundTrips(t *testing.T) {
	var hash [32]byte
	copy(hash[:], bytes.Repeat([]byte{0xab}, 32))

	gotHash, parts, size, err := ParseResourceAdv(EncodeResourceAdv(hash, 7, 3000))
	if err != nil || gotHash != hash || parts != 7 || size != 3000 {
		t.Fatalf("adv round-trip: %v %d %d %v", gotHash, parts, size, err)
	}

	gotHash, idx, payload, err := ParseResourcePart(EncodeResourcePart(hash, 3, []byte("chunk")))
	if err != nil || gotHash != hash || idx != 3 || string(payload) != "chunk" {
		t.Fatalf("part round-trip: %v %d %q %v", gotHash, idx, payload, err)
	}

	gotHash, missing, err := ParseResourceRequest(EncodeResourceRequest(hash, []uint32{0, 2, 300}))
	if err != nil || gotHash != hash || len(missing) != 3 || missing[2] != 300 {
		t.Fatalf("request round-trip: %v %v %v", gotHash, missing, err)
	}
}

func TestParseDisplayName(t *testing.T) {
	cases := []struct {
		name    string
		appData []byte
		want    string
		ok      bool
	}{
		{"empty", nil, "", false},
		{"raw utf8", []byte("Bob"), "Bob", true},
		{"raw invalid utf8", []byte{0xff, 0x01}, "", false},
		{"fixarray str", []byte{0x91, 0xa5, 'A', 'l', 'i', 'c', 'e'}, "Alice", true},
		{"fixarray bin", msgp.AppendBytes(msgp.AppendArrayHeader(nil, 1), []byte("Carol")), "Carol", true},
		{"fixarray nil element", []byte{0x91, 0xc0}, "", false},
		{"empty array", []byte{0x90}, "", false},
		{"array16 header", append([]byte{0xdc, 0x00, 0x01}, 0xa3, 'D', 'a', 'n'), "Dan", true},
		{"truncated array", []byte{0x91}, "", false},
	}
	for _, tc := range cases {
		got, ok := ParseDisplayName(tc.appData)
		if got != tc.want || ok != tc.ok {
			t.Errorf("%s: got (%q, %v), want (%q, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestEncodeDisplayNameMatchesWireShape(t *testing.T) {
	b := EncodeDisplayName("Alice")
	want := []byte{0x91, 0xa5, 'A', 'l', 'i', 'c', 'e'}
	if !bytes.Equal(b, want) {
		t.Fatalf("encoded = %#v, want %#v", b, want)
	}
	name, ok := ParseDisplayName(b)
	if !ok || name != "Alice" {
		t.Fatalf("decode = (%q, %v)", name, ok)
	}
}

func TestPathHash(t *testing.T) {
	h1 := PathHash("/index.mu")
	h2 := PathHash("/index.mu")
	if h1 != h2 {
		t.Fatal("path hash not deterministic")
	}
	if h1 == PathHash("/other.mu") {
		t.Fatal("distinct paths collide")
	}
}

func FuzzParseDisplayName(f *testing.F) {
	f.Add([]byte("Bob"))
	f.Add([]byte{0x91, 0xa5, 'A', 'l', 'i', 'c', 'e'})
	f.Add([]byte{0xdc, 0x00, 0x01, 0xc0})
	f.Add([]byte{0x90})
	f.Fuzz(func(t *testing.T, data []byte) {
		// Must never panic, and a reported name is always valid UTF-8.
		name, ok := ParseDisplayName(data)
		if ok && !utf8.ValidString(name) {
			t.Fatalf("invalid name accepted: %q", name)
		}
	})
}
