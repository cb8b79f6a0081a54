package cache

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// DefaultMaxArgsLength is the serialized argument length above which the
// default serializer replaces the arguments with their xxhash digest.
const DefaultMaxArgsLength = 256

// KeySerializer builds a cache key from an endpoint name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(endpoint string, args ...any) string
}

// KeySerializerOption configures the default key serializer.
type KeySerializerOption func(*defaultKeySerializer)

// WithMaxArgsLength sets the length above which serialized arguments are
// digested. A value <= 0 disables digesting.
func WithMaxArgsLength(n int) KeySerializerOption {
	return func(s *defaultKeySerializer) {
		s.maxArgsLength = n
	}
}

// defaultKeySerializer implements KeySerializer using reflection-based serialization.
// Function values use %p formatting, slices recurse, maps are sorted by key and
// anything else falls back to JSON.
type defaultKeySerializer struct {
	maxArgsLength int
}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer(opts ...KeySerializerOption) KeySerializer {
	s := &defaultKeySerializer{maxArgsLength: DefaultMaxArgsLength}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SerializeKey builds a cache key from endpoint name and args.
func (s *defaultKeySerializer) SerializeKey(endpoint string, args ...any) string {
	if len(args) == 0 {
		return endpoint
	}
	return endpoint + KeySeparator + s.serializeArgs(args)
}

func (s *defaultKeySerializer) serializeArgs(args []any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = s.serializeValue(arg)
	}

	joined := strings.Join(parts, KeySeparator)
	if s.maxArgsLength > 0 && len(joined) > s.maxArgsLength {
		return "xxh:" + strconv.FormatUint(xxhash.Sum64String(joined), 16)
	}
	return joined
}

// serializeValue handles individual argument serialization based on type.
func (s *defaultKeySerializer) serializeValue(v any) string {
	if v == nil {
		return "nil"
	}

	rv := reflect.ValueOf(v)
	rt := rv.Type()

	switch rt.Kind() {
	case reflect.Func:
		return fmt.Sprintf("func:%p", v)
	case reflect.Chan:
		return fmt.Sprintf("chan:%p", v)
	case reflect.Ptr:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Interface:
		if rv.IsNil() {
			return "interface:nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return "slice:nil"
		}
		return s.serializeList("slice", rv)
	case reflect.Array:
		return s.serializeList("array", rv)
	case reflect.Map:
		if rv.IsNil() {
			return "map:nil"
		}
		return s.serializeMap(rv)
	case reflect.Struct:
		if tm, ok := v.(encoding.TextMarshaler); ok {
			if text, err := tm.MarshalText(); err == nil {
				return "text:" + string(text)
			}
		}
		return s.serializeStruct(rv, rt)
	}

	if isBasicKind(rt.Kind()) {
		if str, ok := v.(fmt.Stringer); ok {
			return str.String()
		}
		return fmt.Sprintf("%v", v)
	}

	return s.jsonFallback(v)
}

func (s *defaultKeySerializer) serializeList(kind string, rv reflect.Value) string {
	length := rv.Len()
	parts := make([]string, length)
	for i := 0; i < length; i++ {
		parts[i] = s.serializeValue(rv.Index(i).Interface())
	}
	return fmt.Sprintf("%s[%d]:{%s}", kind, length, strings.Join(parts, ","))
}

// serializeMap sorts the serialized pairs by key so map iteration order never leaks into keys.
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) string {
	type pair struct{ key, value string }

	pairs := make([]pair, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		pairs = append(pairs, pair{
			key:   s.serializeValue(iter.Key().Interface()),
			value: s.serializeValue(iter.Value().Interface()),
		})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.key + "=" + p.value
	}
	return fmt.Sprintf("map[%d]:{%s}", len(parts), strings.Join(parts, ","))
}

// serializeStruct uses exported fields only. Zero-valued fields are kept so
// that {Limit:0} and {Limit:10} never collide.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value, rt reflect.Type) string {
	parts := make([]string, 0, rv.NumField())
	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		fv := rv.Field(i)
		if !fv.CanInterface() {
			continue
		}
		parts = append(parts, field.Name+":"+s.serializeValue(fv.Interface()))
	}
	return fmt.Sprintf("struct:{%s}", strings.Join(parts, ","))
}

func isBasicKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	default:
		return false
	}
}

func (s *defaultKeySerializer) jsonFallback(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "fallback:" + reflect.TypeOf(v).String()
	}
	return "json:" + string(data)
}
