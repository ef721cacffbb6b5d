package keymapper

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

const (
	typeSeparator = "."
	keySeparator  = "&"
)

// EncodeID renders key values as "<typeName>.<v1>&<v2>...". Each value is
// percent-escaped so that the separators stay unambiguous.
func EncodeID(typeName string, keys []interface{}) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = escape(formatKey(k))
	}
	return typeName + typeSeparator + strings.Join(parts, keySeparator)
}

// DecodeID is the inverse of EncodeID. The "<typeName>." prefix is optional.
// Each part is converted to the matching entry of types.
func DecodeID(typeName, id string, types []core.ValueType) ([]interface{}, error) {
	body := strings.TrimPrefix(id, typeName+typeSeparator)
	if strings.Contains(body, typeSeparator) {
		return nil, fmt.Errorf("%w: %q does not belong to type %s", core.ErrMalformedID, id, typeName)
	}
	parts := strings.Split(body, keySeparator)
	if len(parts) != len(types) {
		return nil, fmt.Errorf("%w: %q has %d key values, type %s expects %d", core.ErrMalformedID, id, len(parts), typeName, len(types))
	}
	keys := make([]interface{}, len(parts))
	for i, part := range parts {
		raw, err := unescape(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", core.ErrMalformedID, id, err)
		}
		v, err := parseKey(raw, types[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", core.ErrMalformedID, id, err)
		}
		keys[i] = v
	}
	return keys, nil
}

func formatKey(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}

func parseKey(s string, t core.ValueType) (interface{}, error) {
	switch t {
	case core.TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("key %q is not an integer", s)
		}
		return n, nil
	case core.TypeFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("key %q is not a number", s)
		}
		return f, nil
	case core.TypeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("key %q is not a boolean", s)
		}
		return b, nil
	case core.TypeDate:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("key %q is not a timestamp", s)
		}
		return ts, nil
	}
	return s, nil
}

func needsEscape(c byte) bool {
	return c == '%' || c == '&' || c == '.' || c < 0x20 || c == 0x7f
}

func escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if needsEscape(c) {
			b.WriteByte('%')
			b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func unescape(s string) (string, error) {
	if !strings.Contains(s, "%") {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated escape at offset %d", i)
		}
		decoded, err := hex.DecodeString(s[i+1 : i+3])
		if err != nil {
			return "", fmt.Errorf("bad escape %q at offset %d", s[i:i+3], i)
		}
		b.WriteByte(decoded[0])
		i += 2
	}
	return b.String(), nil
}
