package wire

import (
	"fmt"
	"strings"
	"unicode/utf16"
)

// Modified UTF-7 (RFC 3501 section 5.1.3) encodes mailbox names:
// printable US-ASCII 0x20-0x7E passes through unchanged except '&',
// which is escaped as "&-"; any run of non-ASCII (or ASCII outside
// that printable range) is UTF-16BE-encoded and base64'd with '/'
// replaced by ',' and no padding, wrapped in "&...-".
//
// Hand-rolled rather than built on golang.org/x/text/encoding/unicode,
// which targets the unmodified RFC 2152 alphabet ('+' shift, '/' in
// base64), not the '&'/',' variant IMAP mandates.
const modifiedBase64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+,"

// EncodeMailboxName converts a UTF-8 mailbox name to modified UTF-7 for
// the wire.
func EncodeMailboxName(name string) string {
	var out strings.Builder
	runes := []rune(name)
	i := 0
	for i < len(runes) {
		r := runes[i]
		if r == '&' {
			out.WriteString("&-")
			i++
			continue
		}
		if r >= 0x20 && r <= 0x7E {
			out.WriteRune(r)
			i++
			continue
		}
		// Collect a maximal run of non-ASCII-printable runes.
		j := i
		for j < len(runes) && !(runes[j] >= 0x20 && runes[j] <= 0x7E) {
			j++
		}
		out.WriteString(encodeUTF7Run(runes[i:j]))
		i = j
	}
	return out.String()
}

func encodeUTF7Run(runes []rune) string {
	units := utf16.Encode(runes)
	var bits strings.Builder
	for _, u := range units {
		bits.WriteString(fmt.Sprintf("%016b", u))
	}
	bitstr := bits.String()

	var b64 strings.Builder
	b64.WriteByte('&')
	for len(bitstr) > 0 {
		chunk := bitstr
		if len(chunk) > 6 {
			chunk = chunk[:6]
		}
		for len(chunk) < 6 {
			chunk += "0"
		}
		idx := mustParseBits(chunk)
		b64.WriteByte(modifiedBase64Alphabet[idx])
		if len(bitstr) > 6 {
			bitstr = bitstr[6:]
		} else {
			bitstr = ""
		}
	}
	b64.WriteByte('-')
	return b64.String()
}

func mustParseBits(bits string) int {
	v := 0
	for _, c := range bits {
		v <<= 1
		if c == '1' {
			v |= 1
		}
	}
	return v
}

// DecodeMailboxName converts a wire modified-UTF-7 mailbox name back to
// UTF-8.
func DecodeMailboxName(encoded string) (string, error) {
	var out strings.Builder
	i := 0
	for i < len(encoded) {
		c := encoded[i]
		if c != '&' {
			out.WriteByte(c)
			i++
			continue
		}
		// "&-" is a literal '&'.
		if i+1 < len(encoded) && encoded[i+1] == '-' {
			out.WriteByte('&')
			i += 2
			continue
		}
		end := strings.IndexByte(encoded[i+1:], '-')
		if end < 0 {
			return "", fmt.Errorf("wire: unterminated modified UTF-7 run in %q", encoded)
		}
		run := encoded[i+1 : i+1+end]
		decoded, err := decodeUTF7Run(run)
		if err != nil {
			return "", err
		}
		out.WriteString(decoded)
		i = i + 1 + end + 1
	}
	return out.String(), nil
}

func decodeUTF7Run(run string) (string, error) {
	var bits strings.Builder
	for _, c := range run {
		idx := strings.IndexRune(modifiedBase64Alphabet, c)
		if idx < 0 {
			return "", fmt.Errorf("wire: invalid modified base64 character %q", c)
		}
		bits.WriteString(fmt.Sprintf("%06b", idx))
	}
	bitstr := bits.String()

	var units []uint16
	for len(bitstr) >= 16 {
		units = append(units, uint16(mustParseBits(bitstr[:16])))
		bitstr = bitstr[16:]
	}
	// Remaining bits must be zero padding.
	for _, b := range bitstr {
		if b != '0' {
			return "", fmt.Errorf("wire: non-zero padding bits in modified UTF-7 run %q", run)
		}
	}
	return string(utf16.Decode(units)), nil
}
