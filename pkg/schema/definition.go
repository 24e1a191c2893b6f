package schema

import "fmt"

// Definition 插件声明中的 type_definition 节
type Definition struct {
	TypeName string             `yaml:"type_name"`
	Members  []MemberDefinition `yaml:"members"`
}

// MemberDefinition 一个成员声明
type MemberDefinition struct {
	Name            string `yaml:"name"`
	Type            string `yaml:"type"`
	StringMaxLength int    `yaml:"string_max_length"`
	Key             bool   `yaml:"key"`
}

// Resolve 把类型声明解析为 RecordSchema
func Resolve(def Definition) (*RecordSchema, error) {
	fields := make([]Field, 0, len(def.Members))
	for _, m := range def.Members {
		kind, err := ParseKind(m.Type)
		if err != nil {
			return nil, fmt.Errorf("type %s member %q: %w", def.TypeName, m.Name, err)
		}
		if m.StringMaxLength < 0 {
			return nil, fmt.Errorf("type %s member %q: negative string_max_length", def.TypeName, m.Name)
		}
		fields = append(fields, Field{
			Name:      m.Name,
			Kind:      kind,
			MaxLength: m.StringMaxLength,
			Key:       m.Key,
		})
	}
	return New(def.TypeName, fields...)
}
