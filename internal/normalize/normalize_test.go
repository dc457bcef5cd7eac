package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int64
		want int64
	}{
		{"thousands separator", "12,345", MaxBigInt, 12345},
		{"blank", "", MaxBigInt, 0},
		{"garbage", "abc", MaxBigInt, 0},
		{"clamped to max", "999999999999", 2147483647, 2147483647},
		{"null literal", "null", MaxBigInt, 0},
		{"python none", "None", MaxBigInt, 0},
		{"negative", "-42", MaxBigInt, 0},
		{"decimal truncates", "1999.9", MaxBigInt, 1999},
		{"exponent", "1e3", MaxBigInt, 1000},
		{"padded", "  2021 ", MaxInt32, 2021},
		{"beyond int64", "99999999999999999999", MaxInt32, MaxInt32},
		{"infinity", "inf", MaxBigInt, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ToInt(tc.in, tc.max))
		})
	}
}

func TestToIntDefault(t *testing.T) {
	assert.Equal(t, int64(7), ToIntDefault("", 7, MaxBigInt))
	assert.Equal(t, int64(7), ToIntDefault("x", 7, MaxBigInt))
	assert.Equal(t, int64(5), ToIntDefault("", 7, 5))
}

func TestScalePrice(t *testing.T) {
	assert.Equal(t, int64(25_000_000), ScalePrice(2500, EncarPriceScale))
	assert.Equal(t, int64(2500), ScalePrice(2500, 1))
	assert.Equal(t, int64(2500), ScalePrice(2500, 0))
	assert.Equal(t, MaxBigInt, ScalePrice(MaxBigInt/10, EncarPriceScale))
	assert.Equal(t, int64(0), ScalePrice(0, EncarPriceScale))
}

func TestParseJSONOrList(t *testing.T) {
	assert.Nil(t, ParseJSONOrList("   "))
	assert.Equal(t, []any{"a", "b"}, ParseJSONOrList(`["a","b"]`))
	assert.Equal(t, map[string]any{"abs": true}, ParseJSONOrList(`{"abs":true}`))
	assert.Equal(t, []any{"a", "b"}, ParseJSONOrList("a, b,, "))
	assert.Equal(t, "sunroof", ParseJSONOrList("sunroof"))
}

func TestFirstImage(t *testing.T) {
	assert.Equal(t, "a.jpg", FirstImage(`["a.jpg","b.jpg"]`))
	assert.Equal(t, "a.jpg", FirstImage("a.jpg, b.jpg"))
	assert.Equal(t, "a.jpg", FirstImage("a.jpg"))
	assert.Equal(t, "", FirstImage(""))
	assert.Equal(t, "", FirstImage(`[]`))
	assert.Equal(t, "p/1.jpg", FirstImage([]any{map[string]any{"path": "p/1.jpg"}}))
}

func TestImageList(t *testing.T) {
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, ImageList(`["a.jpg","","b.jpg"]`))
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, ImageList("a.jpg,b.jpg"))
	assert.Equal(t, []string{"a.jpg"}, ImageList("a.jpg"))
	assert.Nil(t, ImageList(""))
}

func TestTitleAndSlug(t *testing.T) {
	assert.Equal(t, "Hyundai Sonata Premium 2021", Title("Hyundai", "Sonata", "Premium", 2021))
	assert.Equal(t, "Hyundai Sonata", Title("Hyundai", " Sonata ", "", 0))
	assert.Equal(t, "2021-hyundai-sonata-l1", Slug(2021, "Hyundai", "Sonata", "L1"))
}

func TestClip(t *testing.T) {
	assert.Equal(t, "현대", Clip("현대자동차", 2))
	assert.Equal(t, "abc", Clip("abc", 10))
}
