package cache

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// CanonicalJSON encodes v with sorted object keys, ", " and ": " separators
// and every non-ASCII rune escaped as \uXXXX. Other services sharing the
// cache derive the same bytes, so their keys agree with ours.
func CanonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalNumbers decodes data like json.Unmarshal but keeps numbers as
// json.Number, so a fingerprint sees "1" and "1.0" as different values.
func UnmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after top-level value")
	}
	return nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		writeASCIIString(buf, val)
	case json.Number:
		return writeNumber(buf, val)
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int8, int16, int32, int64:
		buf.WriteString(strconv.FormatInt(reflect.ValueOf(val).Int(), 10))
	case uint, uint8, uint16, uint32, uint64:
		buf.WriteString(strconv.FormatUint(reflect.ValueOf(val).Uint(), 10))
	case float32:
		return writeFloat(buf, float64(val))
	case float64:
		return writeFloat(buf, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeASCIIString(buf, k)
			buf.WriteString(": ")
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case map[string]string:
		generic := make(map[string]any, len(val))
		for k, s := range val {
			generic[k] = s
		}
		return writeCanonical(buf, generic)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case []string:
		generic := make([]any, len(val))
		for i, s := range val {
			generic[i] = s
		}
		return writeCanonical(buf, generic)
	default:
		// Structs, typed maps and slices: round-trip through JSON into the
		// generic shapes handled above.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("canonical json: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("canonical json: %w", err)
		}
		return writeCanonical(buf, generic)
	}
	return nil
}

// writeNumber keeps the integer/float distinction of a decoded literal:
// "1" stays an integer while "1.0" and "1e2" are floats.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		i, ok := new(big.Int).SetString(lit, 10)
		if !ok {
			return fmt.Errorf("canonical json: invalid number %q", lit)
		}
		buf.WriteString(i.String())
		return nil
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("canonical json: invalid number %q: %w", lit, err)
	}
	return writeFloat(buf, f)
}

// writeFloat uses the shortest round-trip digits, in positional form for
// exponents in [-4, 16) and scientific form otherwise. Whole values keep
// a ".0" suffix so floats never collide with integers.
func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("canonical json: unsupported float value %v", f)
	}

	// "-d.ddde±XX"
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mant, expPart, _ := strings.Cut(sci, "e")
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return fmt.Errorf("canonical json: format float %v: %w", f, err)
	}
	if strings.HasPrefix(mant, "-") {
		buf.WriteByte('-')
		mant = mant[1:]
	}
	digits := strings.Replace(mant, ".", "", 1)

	if exp < -4 || exp >= 16 {
		buf.WriteString(digits[:1])
		if len(digits) > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		if exp < 0 {
			buf.WriteByte('-')
			exp = -exp
		} else {
			buf.WriteByte('+')
		}
		if exp < 10 {
			buf.WriteByte('0')
		}
		buf.WriteString(strconv.Itoa(exp))
		return nil
	}

	switch point := exp + 1; {
	case point <= 0:
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", -point))
		buf.WriteString(digits)
	case point >= len(digits):
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", point-len(digits)))
		buf.WriteString(".0")
	default:
		buf.WriteString(digits[:point])
		buf.WriteByte('.')
		buf.WriteString(digits[point:])
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func writeASCIIString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r >= 0x20 && r < 0x7f:
				buf.WriteRune(r)
			case r > 0xffff:
				r1, r2 := surrogates(r)
				writeUnicodeEscape(buf, r1)
				writeUnicodeEscape(buf, r2)
			default:
				writeUnicodeEscape(buf, r)
			}
		}
	}
	buf.WriteByte('"')
}

func surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xd800 + (r>>10)&0x3ff, 0xdc00 + r&0x3ff
}

func writeUnicodeEscape(buf *bytes.Buffer, r rune) {
	if r == utf8.RuneError {
		r = 0xfffd
	}
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}
