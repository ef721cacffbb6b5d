package dialect

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkb"

	"github.com/rzpsarthak13/featurestore/internal/core"
)

// Codec converts between scanned column values and attribute values, keyed
// by the attribute's value type. Geometry travels as WKB.
type Codec struct{}

// Decode converts a scanned value into the Go type of a.Type:
// string, int64, float64, bool, time.Time or geom.Geometry.
func (c Codec) Decode(a core.AttributeDescriptor, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	if valuer, ok := value.(driver.Valuer); ok {
		val, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		if val == nil {
			return nil, nil
		}
		value = val
	}

	switch a.Type {
	case core.TypeText:
		return c.toString(value)
	case core.TypeInteger:
		return c.toInt64(value)
	case core.TypeFloat:
		return c.toFloat64(value)
	case core.TypeBoolean:
		return c.toBool(value)
	case core.TypeDate:
		return c.toTime(value)
	case core.TypeGeometry:
		return c.decodeGeometry(value)
	default:
		if b, ok := value.([]byte); ok {
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		}
		return value, nil
	}
}

// Encode converts an attribute value into a driver argument.
func (c Codec) Encode(a core.AttributeDescriptor, value interface{}) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch a.Type {
	case core.TypeText:
		return c.toString(value)
	case core.TypeInteger:
		return c.toInt64(value)
	case core.TypeFloat:
		return c.toFloat64(value)
	case core.TypeBoolean:
		return c.toBool(value)
	case core.TypeDate:
		return c.toTime(value)
	case core.TypeGeometry:
		return c.encodeGeometry(value)
	default:
		switch v := value.(type) {
		case map[string]interface{}, []interface{}:
			return c.toJSON(v)
		}
		return value, nil
	}
}

func (c Codec) decodeGeometry(value interface{}) (geom.Geometry, error) {
	switch v := value.(type) {
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		g, err := wkb.DecodeBytes(v)
		if err != nil {
			return nil, fmt.Errorf("cannot decode WKB: %w", err)
		}
		return g, nil
	case string:
		return c.decodeGeometry([]byte(v))
	default:
		return nil, fmt.Errorf("cannot convert %T to geometry", value)
	}
}

func (c Codec) encodeGeometry(value interface{}) ([]byte, error) {
	if b, ok := value.([]byte); ok {
		return b, nil
	}
	bs, err := wkb.EncodeBytes(value)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %T as WKB: %w", value, err)
	}
	return bs, nil
}

func (c Codec) toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return 0, fmt.Errorf("cannot convert %d to int64: overflow", v)
		}
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("cannot convert %g to int64: not integral", v)
		}
		return int64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return c.toInt64(string(v))
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to int64: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", value)
	}
}

func (c Codec) toFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case []byte:
		return c.toFloat64(string(v))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string to float64: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

func (c Codec) toString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float32, float64:
		return fmt.Sprintf("%g", v), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("cannot convert %T to string: %w", value, err)
		}
		return string(bytes), nil
	}
}

var timeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (c Codec) toTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case []byte:
		return c.toTime(string(v))
	case string:
		for _, format := range timeFormats {
			if t, err := time.Parse(format, v); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("cannot parse time string: %s", v)
	case int64:
		return time.Unix(v, 0).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", value)
	}
}

func (c Codec) toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int64:
		return v != 0, nil
	case int:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int8:
		return v != 0, nil
	case uint8:
		return v != 0, nil
	case []byte:
		return c.toBool(string(v))
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			if i, err := strconv.ParseInt(v, 10, 64); err == nil {
				return i != 0, nil
			}
			return false, fmt.Errorf("cannot convert string to bool: %w", err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", value)
	}
}

func (c Codec) toJSON(value interface{}) (string, error) {
	jsonBytes, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("cannot marshal %T to JSON: %w", value, err)
	}
	return string(jsonBytes), nil
}
