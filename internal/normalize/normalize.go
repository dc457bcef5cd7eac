package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

const (
	MaxInt32  int64 = math.MaxInt32
	MaxBigInt int64 = math.MaxInt64
)

// EncarPriceScale converts the CSV feed's price, quoted in units of
// 10,000 KRW, into whole won. JSON and auction feeds already carry won.
const EncarPriceScale int64 = 10000

// ToInt coerces s to an integer in [0, max]. Anything unparseable yields 0.
func ToInt(s string, max int64) int64 {
	return ToIntDefault(s, 0, max)
}

// ToIntDefault is ToInt with an explicit fallback for blank or garbage input.
// Thousands separators and inner spaces are ignored and decimals truncate.
func ToIntDefault(s string, def, max int64) int64 {
	if max <= 0 {
		max = MaxBigInt
	}
	v := strings.TrimSpace(s)
	switch strings.ToLower(v) {
	case "", "null", "none", "nan":
		return clamp(def, max)
	}
	v = strings.NewReplacer(",", "", " ", "", "_", "").Replace(v)

	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return clamp(n, max)
	} else if errors.Is(err, strconv.ErrRange) {
		if strings.HasPrefix(v, "-") {
			return 0
		}
		return clamp(MaxBigInt, max)
	}

	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return clamp(def, max)
	}
	if f <= 0 {
		return 0
	}
	if f >= float64(max) {
		return max
	}
	return int64(f)
}

func clamp(n, max int64) int64 {
	if n < 0 {
		return 0
	}
	if n > max {
		return max
	}
	return n
}

// ScalePrice multiplies raw by scale, saturating at MaxBigInt.
// A scale below 1 leaves raw unchanged.
func ScalePrice(raw, scale int64) int64 {
	if scale <= 1 || raw <= 0 {
		return clamp(raw, MaxBigInt)
	}
	scaled := decimal.NewFromInt(raw).Mul(decimal.NewFromInt(scale))
	if scaled.GreaterThan(decimal.NewFromInt(MaxBigInt)) {
		return MaxBigInt
	}
	return scaled.IntPart()
}

// ParseJSONOrList decodes s as JSON. When that fails it falls back to a
// comma separated list, and failing that to s itself. Blank input is nil.
func ParseJSONOrList(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err == nil {
		return out
	}
	if strings.Contains(s, ",") {
		return splitList(s)
	}
	return s
}

func splitList(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FirstImage returns the first entry of a parsed image list, or the first
// comma segment of a raw string.
func FirstImage(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []any:
		for _, item := range t {
			if s := imageRef(item); s != "" {
				return s
			}
		}
		return ""
	case []string:
		for _, item := range t {
			if s := strings.TrimSpace(item); s != "" {
				return s
			}
		}
		return ""
	case string:
		if parsed := ParseJSONOrList(t); parsed != nil {
			if s, ok := parsed.(string); ok {
				return strings.TrimSpace(strings.Split(s, ",")[0])
			}
			return FirstImage(parsed)
		}
		return ""
	default:
		return imageRef(t)
	}
}

// ImageList flattens a parsed image value into its non-empty references.
func ImageList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		parsed := ParseJSONOrList(t)
		if s, ok := parsed.(string); ok {
			return stringList(splitList(s))
		}
		return ImageList(parsed)
	case []any:
		return stringList(t)
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		if s := imageRef(t); s != "" {
			return []string{s}
		}
		return nil
	}
}

func stringList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := imageRef(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// imageRef renders one list element. Photo objects carry their URL under
// one of a few keys.
func imageRef(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, key := range []string{"url", "path", "location", "src"} {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Title joins the non-empty naming parts and the year.
func Title(manufacturer, model, badge string, year int) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{manufacturer, model, badge} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if year > 0 {
		parts = append(parts, strconv.Itoa(year))
	}
	return strings.Join(parts, " ")
}

// Slug builds the URL slug of a listing. The lot keeps it unique.
func Slug(year int, manufacturer, model, lot string) string {
	parts := make([]string, 0, 4)
	if year > 0 {
		parts = append(parts, strconv.Itoa(year))
	}
	parts = append(parts, manufacturer, model, lot)
	return Clip(slug.Make(strings.Join(parts, " ")), 255)
}

// Clip truncates s to at most n runes.
func Clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// NameOr returns the trimmed name, or fallback when it is blank.
func NameOr(name, fallback string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	return fallback
}
