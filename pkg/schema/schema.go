package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 字段的基本类型
type Kind int

const (
	Invalid Kind = iota
	Bool
	Char
	Octet
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float32
	Float64
	String
)

var kindNames = map[Kind]string{
	Bool:    "boolean",
	Char:    "char",
	Octet:   "octet",
	Int16:   "short",
	Uint16:  "unsignedShort",
	Int32:   "long",
	Uint32:  "unsignedLong",
	Int64:   "longLong",
	Uint64:  "unsignedLongLong",
	Float32: "float",
	Float64: "double",
	String:  "string",
}

// 声明中可用的类型名（大小写不敏感）
var kindAliases = map[string]Kind{
	"boolean":          Bool,
	"bool":             Bool,
	"char":             Char,
	"wchar":            Char,
	"octet":            Octet,
	"byte":             Octet,
	"short":            Int16,
	"int16":            Int16,
	"unsignedshort":    Uint16,
	"uint16":           Uint16,
	"long":             Int32,
	"int32":            Int32,
	"unsignedlong":     Uint32,
	"uint32":           Uint32,
	"longlong":         Int64,
	"int64":            Int64,
	"unsignedlonglong": Uint64,
	"uint64":           Uint64,
	"float":            Float32,
	"float32":          Float32,
	"double":           Float64,
	"float64":          Float64,
	"longdouble":       Float64,
	"string":           String,
	"wstring":          String,
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "invalid"
}

// ParseKind 解析声明中的类型名
func ParseKind(name string) (Kind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Invalid, fmt.Errorf("unknown member type %q", name)
	}
	return k, nil
}

// Field 记录中的一个字段
type Field struct {
	Name      string
	Kind      Kind
	MaxLength int // 仅 String，0 表示不限
	Key       bool
}

// RecordSchema 有序字段列表，解析后不可变
type RecordSchema struct {
	name   string
	fields []Field
	index  map[string]int
}

var (
	ErrEmptyTypeName   = errors.New("type definition without type_name")
	ErrEmptyMemberName = errors.New("member without name")
	ErrDuplicateMember = errors.New("duplicate member")
)

// New 按字段顺序构造 schema
func New(name string, fields ...Field) (*RecordSchema, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyTypeName
	}
	s := &RecordSchema{
		name:   name,
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for _, f := range fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("type %s: %w", name, ErrEmptyMemberName)
		}
		if _, dup := s.index[f.Name]; dup {
			return nil, fmt.Errorf("type %s: %w %q", name, ErrDuplicateMember, f.Name)
		}
		if f.Kind == Invalid {
			return nil, fmt.Errorf("type %s: member %q has invalid kind", name, f.Name)
		}
		if f.Kind != String {
			f.MaxLength = 0
		}
		s.index[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	return s, nil
}

// MustNew 内置 schema 使用
func MustNew(name string, fields ...Field) *RecordSchema {
	s, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Schemaless 未声明类型时的开放 schema，记录可携带任意字段
func Schemaless(name string) *RecordSchema {
	return &RecordSchema{name: name, index: map[string]int{}}
}

func (s *RecordSchema) Name() string { return s.name }

// Fields 返回字段副本
func (s *RecordSchema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

func (s *RecordSchema) Len() int { return len(s.fields) }

// IsOpen 是否为无字段声明的开放 schema
func (s *RecordSchema) IsOpen() bool { return len(s.fields) == 0 }

func (s *RecordSchema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Equal 名称与字段完全一致
func (s *RecordSchema) Equal(o *RecordSchema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.name != o.name || len(s.fields) != len(o.fields) {
		return false
	}
	for i := range s.fields {
		if s.fields[i] != o.fields[i] {
			return false
		}
	}
	return true
}
