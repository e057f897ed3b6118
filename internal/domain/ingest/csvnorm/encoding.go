package csvnorm

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/FACorreiaa/statement-ingest/internal/canonical"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// decode sniffs the byte encoding of a CSV export and returns UTF-8 text.
// Valid UTF-8 passes through; otherwise single-byte exports are decoded as
// Windows-1252 when C1 control bytes are present (they are printable there)
// and Latin-1 otherwise.
func decode(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, bomUTF8):
		return string(data[len(bomUTF8):]), nil
	case bytes.HasPrefix(data, bomUTF16LE):
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes, data)
	case bytes.HasPrefix(data, bomUTF16BE):
		return decodeWith(unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder().Bytes, data)
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	cm := charmap.ISO8859_1
	if hasC1Bytes(data) {
		cm = charmap.Windows1252
	}
	return decodeWith(cm.NewDecoder().Bytes, data)
}

func decodeWith(dec func([]byte) ([]byte, error), data []byte) (string, error) {
	out, err := dec(data)
	if err != nil {
		return "", canonical.NewMalformed("undecodable byte sequence: "+err.Error(), 0, 0, "")
	}
	return string(out), nil
}

func hasC1Bytes(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 && b <= 0x9F {
			return true
		}
	}
	return false
}
