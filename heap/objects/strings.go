package objects

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/joshuapare/heapkit/heap/memory"
)

// Sequential strings store Latin-1 (one byte) or UTF-16LE (two byte)
// characters after their header.

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// IsOneByte reports whether every rune of s is representable in Latin-1.
func IsOneByte(s string) bool {
	for _, r := range s {
		if _, ok := charmap.ISO8859_1.EncodeRune(r); !ok {
			return false
		}
	}
	return true
}

// EncodeOneByte converts s to Latin-1.
func EncodeOneByte(s string) ([]byte, error) {
	if !IsOneByte(s) {
		return nil, ErrNotOneByte
	}
	return charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
}

// EncodeTwoByte converts s to UTF-16LE.
func EncodeTwoByte(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("objects: invalid utf-8 in %q", s)
	}
	return utf16le.NewEncoder().Bytes([]byte(s))
}

// CharCount returns the length field a sequential string holding s will have.
func CharCount(s string, oneByte bool) int {
	if oneByte {
		return utf8.RuneCountInString(s)
	}
	n := 0
	for _, r := range s {
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// StringValue decodes the string rooted at obj, following cons and thin
// strings.
func StringValue(mem *memory.Memory, obj memory.Address) (string, error) {
	m := MapOf(mem, obj)
	switch {
	case m.Type.IsOneByteString():
		n := Length(mem, obj, m)
		b, err := charmap.ISO8859_1.NewDecoder().Bytes(mem.Bytes(obj+SeqStringHeaderSize, n))
		return string(b), err
	case m.Type.IsSequentialString():
		n := Length(mem, obj, m)
		b, err := utf16le.NewDecoder().Bytes(mem.Bytes(obj+SeqStringHeaderSize, 2*n))
		return string(b), err
	case m.Type == ConsStringType:
		first, err := StringValue(mem, LoadSlot(mem, obj+ConsFirstOffset).Address())
		if err != nil {
			return "", err
		}
		second, err := StringValue(mem, LoadSlot(mem, obj+ConsSecondOffset).Address())
		if err != nil {
			return "", err
		}
		return first + second, nil
	case m.Type == ThinStringType:
		return StringValue(mem, LoadSlot(mem, obj+ThinActualOffset).Address())
	default:
		return "", fmt.Errorf("%w: %s at %#x", ErrNotString, m.Name, obj)
	}
}
