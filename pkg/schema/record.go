package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrKindMismatch = errors.New("kind mismatch")
	ErrOutOfRange   = errors.New("value out of range")
	ErrTooLong      = errors.New("string exceeds max length")
)

// Record 按 schema 填充的一条记录
type Record struct {
	schema *RecordSchema
	values []any
	set    []bool
	// 开放 schema 下按写入顺序保存
	extraNames []string
	extra      map[string]any
}

// NewRecord 创建空记录
func NewRecord(s *RecordSchema) *Record {
	r := &Record{schema: s}
	if s.IsOpen() {
		r.extra = map[string]any{}
		return r
	}
	r.values = make([]any, s.Len())
	r.set = make([]bool, s.Len())
	return r
}

func (r *Record) Schema() *RecordSchema { return r.schema }

// Set 按字段类型校验并转换后写入
func (r *Record) Set(name string, v any) error {
	if r.schema.IsOpen() {
		if _, ok := r.extra[name]; !ok {
			r.extraNames = append(r.extraNames, name)
		}
		r.extra[name] = v
		return nil
	}
	i, ok := r.schema.index[name]
	if !ok {
		return fmt.Errorf("%w %q in type %s", ErrUnknownField, name, r.schema.name)
	}
	f := r.schema.fields[i]
	cv, err := convert(f, v)
	if err != nil {
		return fmt.Errorf("field %s.%s: %w", r.schema.name, name, err)
	}
	r.values[i] = cv
	r.set[i] = true
	return nil
}

// Fill 写入 schema 中已声明的字段，未声明的字段跳过
func (r *Record) Fill(values map[string]any) error {
	if r.schema.IsOpen() {
		for _, k := range sortedKeys(values) {
			_ = r.Set(k, values[k])
		}
		return nil
	}
	for _, f := range r.schema.fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if err := r.Set(f.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Record) Get(name string) (any, bool) {
	if r.schema.IsOpen() {
		v, ok := r.extra[name]
		return v, ok
	}
	i, ok := r.schema.index[name]
	if !ok || !r.set[i] {
		return nil, false
	}
	return r.values[i], true
}

// Each 按顺序遍历字段；未赋值的字段给出该类型零值
func (r *Record) Each(fn func(name string, v any)) {
	if r.schema.IsOpen() {
		for _, name := range r.extraNames {
			fn(name, r.extra[name])
		}
		return
	}
	for i, f := range r.schema.fields {
		v := r.values[i]
		if !r.set[i] {
			v = zero(f.Kind)
		}
		fn(f.Name, v)
	}
}

// Reset 清空所有字段，记录可复用
func (r *Record) Reset() {
	if r.schema.IsOpen() {
		r.extraNames = r.extraNames[:0]
		r.extra = map[string]any{}
		return
	}
	for i := range r.values {
		r.values[i] = nil
		r.set[i] = false
	}
}

func zero(k Kind) any {
	switch k {
	case Bool:
		return false
	case Char, String:
		return ""
	case Octet:
		return uint8(0)
	case Int16:
		return int16(0)
	case Uint16:
		return uint16(0)
	case Int32:
		return int32(0)
	case Uint32:
		return uint32(0)
	case Int64:
		return int64(0)
	case Uint64:
		return uint64(0)
	case Float32:
		return float32(0)
	default:
		return float64(0)
	}
}

func convert(f Field, v any) (any, error) {
	switch f.Kind {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: want boolean, got %T", ErrKindMismatch, v)
		}
		return b, nil
	case String, Char:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: want %s, got %T", ErrKindMismatch, f.Kind, v)
		}
		limit := f.MaxLength
		if f.Kind == Char {
			limit = 1
		}
		if limit > 0 && utf8.RuneCountInString(s) > limit {
			return nil, fmt.Errorf("%w (%d)", ErrTooLong, limit)
		}
		return s, nil
	case Float32, Float64:
		x, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: want %s, got %T", ErrKindMismatch, f.Kind, v)
		}
		if f.Kind == Float32 {
			if !math.IsInf(x, 0) && !math.IsNaN(x) && math.Abs(x) > math.MaxFloat32 {
				return nil, ErrOutOfRange
			}
			return float32(x), nil
		}
		return x, nil
	}
	return convertInt(f.Kind, v)
}

func convertInt(k Kind, v any) (any, error) {
	var (
		i        int64
		u        uint64
		unsigned bool
	)
	switch n := v.(type) {
	case int:
		i = int64(n)
	case int8:
		i = int64(n)
	case int16:
		i = int64(n)
	case int32:
		i = int64(n)
	case int64:
		i = n
	case uint:
		u, unsigned = uint64(n), true
	case uint8:
		u, unsigned = uint64(n), true
	case uint16:
		u, unsigned = uint64(n), true
	case uint32:
		u, unsigned = uint64(n), true
	case uint64:
		u, unsigned = n, true
	default:
		return nil, fmt.Errorf("%w: want %s, got %T", ErrKindMismatch, k, v)
	}
	if unsigned && u <= math.MaxInt64 {
		i, unsigned = int64(u), false
	}

	inRange := func(lo, hi int64) bool { return !unsigned && i >= lo && i <= hi }
	inURange := func(hi uint64) bool {
		if unsigned {
			return u <= hi
		}
		return i >= 0 && uint64(i) <= hi
	}
	asU := func() uint64 {
		if unsigned {
			return u
		}
		return uint64(i)
	}

	switch k {
	case Octet:
		if inURange(math.MaxUint8) {
			return uint8(asU()), nil
		}
	case Int16:
		if inRange(math.MinInt16, math.MaxInt16) {
			return int16(i), nil
		}
	case Uint16:
		if inURange(math.MaxUint16) {
			return uint16(asU()), nil
		}
	case Int32:
		if inRange(math.MinInt32, math.MaxInt32) {
			return int32(i), nil
		}
	case Uint32:
		if inURange(math.MaxUint32) {
			return uint32(asU()), nil
		}
	case Int64:
		if !unsigned {
			return i, nil
		}
	case Uint64:
		if inURange(math.MaxUint64) {
			return asU(), nil
		}
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrKindMismatch, k)
	}
	return nil, fmt.Errorf("%w for %s: %v", ErrOutOfRange, k, v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
