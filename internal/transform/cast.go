package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"omopetl/internal/schema"
)

// temporalLayouts are the accepted input shapes for date/datetime parsing,
// tried in order. Clinical exports overwhelmingly use ISO-ish forms.
var temporalLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
}

// parseTemporal interprets a cell as a point in time.
func parseTemporal(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range temporalLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// castColumn casts every value of a produced column to the declared target
// type. Nulls pass through untouched. Date/DateTime parse failures become
// nulls (dirty clinical timestamps are routine and must not abort a run);
// Integer/Float/Boolean failures are a CastError.
func castColumn(vals []any, typ schema.Type, column string) ([]any, error) {
	if typ == schema.TypeUnknown {
		return vals, nil
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = nil
			continue
		}
		cv, ok := castValue(v, typ)
		if !ok {
			return nil, &CastError{Column: column, Type: typ, Value: v}
		}
		out[i] = cv
	}
	return out, nil
}

func castValue(v any, typ schema.Type) (any, bool) {
	switch typ {
	case schema.TypeString:
		return valueString(v), true

	case schema.TypeInteger:
		switch t := v.(type) {
		case int:
			return int64(t), true
		case int32:
			return int64(t), true
		case int64:
			return t, true
		case float32:
			return floatToInt(float64(t))
		case float64:
			return floatToInt(t)
		case bool:
			if t {
				return int64(1), true
			}
			return int64(0), true
		case string:
			n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				// Accept integral floats in string form ("42.0").
				f, ferr := strconv.ParseFloat(strings.TrimSpace(t), 64)
				if ferr != nil {
					return nil, false
				}
				return floatToInt(f)
			}
			return n, true
		default:
			return nil, false
		}

	case schema.TypeFloat:
		switch t := v.(type) {
		case int:
			return float64(t), true
		case int32:
			return float64(t), true
		case int64:
			return float64(t), true
		case float32:
			return float64(t), true
		case float64:
			return t, true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		default:
			return nil, false
		}

	case schema.TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, true
		case int:
			return t != 0, true
		case int64:
			return t != 0, true
		case float64:
			return t != 0, true
		case string:
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "true", "t", "yes", "1":
				return true, true
			case "false", "f", "no", "0":
				return false, true
			default:
				return nil, false
			}
		default:
			return nil, false
		}

	case schema.TypeDate:
		ts, ok := parseTemporal(v)
		if !ok {
			return nil, true // unparseable dates become null, never fatal
		}
		return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC), true

	case schema.TypeDateTime:
		ts, ok := parseTemporal(v)
		if !ok {
			return nil, true
		}
		return ts, true
	}
	return nil, false
}

func floatToInt(f float64) (any, bool) {
	if f != float64(int64(f)) {
		return nil, false
	}
	return int64(f), true
}

// valueString renders a cell as text without trimming or locale formatting.
// Null cells render empty.
func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}
