package typeutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeMapStringAny(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  map[string]any
		ok    bool
	}{
		{"valid map", map[string]any{"k": "v"}, map[string]any{"k": "v"}, true},
		{"nil value", nil, nil, false},
		{"wrong type", "not a map", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeMapStringAny(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSafeMapStringAnyDefault(t *testing.T) {
	def := map[string]any{"fallback": true}
	assert.Equal(t, map[string]any{"a": 1}, SafeMapStringAnyDefault(map[string]any{"a": 1}, def))
	assert.Equal(t, def, SafeMapStringAnyDefault("not a map", def))
}

func TestSafeString(t *testing.T) {
	s, ok := SafeString("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = SafeString(42)
	assert.False(t, ok)

	_, ok = SafeString(nil)
	assert.False(t, ok)
}

func TestSafeStringDefault(t *testing.T) {
	assert.Equal(t, "hello", SafeStringDefault("hello", "fallback"))
	assert.Equal(t, "fallback", SafeStringDefault(42, "fallback"))
}

func TestSafeInt(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int
		ok    bool
	}{
		{"int", 5, 5, true},
		{"int64", int64(5), 5, true},
		{"int32", int32(5), 5, true},
		{"uint64", uint64(5), 5, true},
		{"float64", 5.0, 5, true},
		{"string fails", "5", 0, false},
		{"nil fails", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSafeIntDefault(t *testing.T) {
	assert.Equal(t, 5, SafeIntDefault(5, 99))
	assert.Equal(t, 99, SafeIntDefault("nope", 99))
}

func TestSafeInt64(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  int64
		ok    bool
	}{
		{"int64", int64(7), 7, true},
		{"uint64", uint64(7), 7, true},
		{"int", 7, 7, true},
		{"float64", 7.0, 7, true},
		{"bool fails", true, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeInt64(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestSafeInt64Default(t *testing.T) {
	assert.Equal(t, int64(7), SafeInt64Default(int64(7), 0))
	assert.Equal(t, int64(42), SafeInt64Default(nil, 42))
}

func TestSafeFloat64(t *testing.T) {
	f, ok := SafeFloat64(3.5)
	assert.True(t, ok)
	assert.Equal(t, 3.5, f)

	f, ok = SafeFloat64(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)

	_, ok = SafeFloat64("3.5")
	assert.False(t, ok)
}

func TestSafeFloat64Default(t *testing.T) {
	assert.Equal(t, 3.5, SafeFloat64Default(3.5, 0))
	assert.Equal(t, 1.5, SafeFloat64Default("bad", 1.5))
}

func TestSafeBool(t *testing.T) {
	b, ok := SafeBool(true)
	assert.True(t, ok)
	assert.True(t, b)

	_, ok = SafeBool("true")
	assert.False(t, ok)
}

func TestSafeBoolDefault(t *testing.T) {
	assert.True(t, SafeBoolDefault(true, false))
	assert.False(t, SafeBoolDefault("nope", false))
}

func TestSafeStringSlice(t *testing.T) {
	s, ok := SafeStringSlice([]string{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, s)

	s, ok = SafeStringSlice([]any{"a", "b"})
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, s)

	_, ok = SafeStringSlice([]any{"a", 5})
	assert.False(t, ok)

	_, ok = SafeStringSlice(nil)
	assert.False(t, ok)
}

func TestSafeStringSliceDefault(t *testing.T) {
	def := []string{"fallback"}
	assert.Equal(t, []string{"a"}, SafeStringSliceDefault([]string{"a"}, def))
	assert.Equal(t, def, SafeStringSliceDefault(42, def))
}

func TestMustMapStringAnyPanicsOnWrongType(t *testing.T) {
	assert.Panics(t, func() {
		MustMapStringAny("not a map", "test context")
	})
}

func TestMustMapStringAnyReturnsOnSuccess(t *testing.T) {
	assert.NotPanics(t, func() {
		m := MustMapStringAny(map[string]any{"k": "v"}, "test context")
		assert.Equal(t, "v", m["k"])
	})
}
