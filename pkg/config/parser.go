package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/agent-publisher/pkg/qos"
	"github.com/agent-publisher/pkg/schema"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptyDocument      = errors.New("empty document")
	ErrMissingDeclaration = errors.New("missing plugin declaration")
)

// ParsePluginDeclaration 遍历 YAML 节点树填充插件声明
// 未识别的键忽略；结构错误（类型不符、缺少必填项）返回错误
func ParsePluginDeclaration(data []byte) (PluginProperties, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return PluginProperties{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return PluginProperties{}, ErrEmptyDocument
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return PluginProperties{}, nodeErr(root, "document root must be a mapping")
	}

	b := newPluginBuilder()
	found := false
	err := eachPair(root, func(key string, val *yaml.Node) error {
		if key != "plugin" {
			return nil
		}
		if found {
			return nodeErr(val, "duplicate plugin declaration")
		}
		found = true
		return walkPlugin(b, val)
	})
	if err != nil {
		return PluginProperties{}, err
	}
	if !found {
		return PluginProperties{}, ErrMissingDeclaration
	}
	if err := checkRequired(b.props); err != nil {
		return PluginProperties{}, err
	}
	return b.flush(), nil
}

func checkRequired(p PluginProperties) error {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Dll == "" {
		missing = append(missing, "dll")
	}
	if p.CreateFunction == "" {
		missing = append(missing, "create_function")
	}
	if len(missing) > 0 {
		return fmt.Errorf("plugin declaration missing %s", strings.Join(missing, ", "))
	}
	if strings.ContainsAny(p.Name, "/\\") {
		return fmt.Errorf("plugin name %q must not contain '/' or '\\\\'", p.Name)
	}
	return nil
}

func walkPlugin(b *pluginBuilder, node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nodeErr(node, "plugin must be a mapping")
	}
	return eachPair(node, func(key string, val *yaml.Node) error {
		switch key {
		case "name":
			s, err := scalar(val)
			b.setName(s)
			return err
		case "dll":
			s, err := scalar(val)
			b.setDll(s)
			return err
		case "create_function":
			s, err := scalar(val)
			b.setCreateFunction(s)
			return err
		case "publishing_period_sec":
			n, err := intScalar(val)
			b.setPeriod(n)
			return err
		case "bus_properties":
			return walkBusProperties(b, val)
		case "plugin_config":
			return walkPluginConfig(b, val)
		case "type_definition":
			return walkTypeDefinition(b, val)
		}
		return nil
	})
}

func walkBusProperties(b *pluginBuilder, node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nodeErr(node, "bus_properties must be a mapping")
	}
	return eachPair(node, func(key string, val *yaml.Node) error {
		switch key {
		case "qos_library":
			s, err := scalar(val)
			b.setQoSLibrary(s)
			return err
		case "qos_profile":
			s, err := scalar(val)
			b.setQoSProfile(s)
			return err
		case "topic_name":
			s, err := scalar(val)
			b.setTopic(s)
			return err
		case "writer_qos":
			if val.Kind != yaml.MappingNode {
				return nodeErr(val, "writer_qos must be a mapping")
			}
			var w qos.WriterQoS
			if err := val.Decode(&w); err != nil {
				return nodeErr(val, err.Error())
			}
			if err := w.Validate(); err != nil {
				return nodeErr(val, err.Error())
			}
			b.setWriterQoS(w)
		}
		return nil
	})
}

// plugin_config 支持两种写法：
//
//	plugin_config:
//	  - {name: key, value: v}
//
//	plugin_config:
//	  key: v
func walkPluginConfig(b *pluginBuilder, node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		return eachPair(node, func(key string, val *yaml.Node) error {
			s, err := scalar(val)
			if err != nil {
				return err
			}
			b.setConfig(key, s)
			return nil
		})
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return nodeErr(item, "plugin_config element must be a mapping")
			}
			var name, value string
			var hasName bool
			err := eachPair(item, func(key string, val *yaml.Node) error {
				var err error
				switch key {
				case "name":
					name, err = scalar(val)
					hasName = true
				case "value":
					value, err = scalar(val)
				}
				return err
			})
			if err != nil {
				return err
			}
			if !hasName || name == "" {
				return nodeErr(item, "plugin_config element without name")
			}
			b.setConfig(name, value)
		}
		return nil
	default:
		return nodeErr(node, "plugin_config must be a mapping or a sequence")
	}
}

func walkTypeDefinition(b *pluginBuilder, node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return nodeErr(node, "type_definition must be a mapping")
	}
	var def schema.Definition
	if err := node.Decode(&def); err != nil {
		return nodeErr(node, err.Error())
	}
	s, err := schema.Resolve(def)
	if err != nil {
		return nodeErr(node, err.Error())
	}
	b.setSchema(s)
	return nil
}

func eachPair(node *yaml.Node, fn func(key string, val *yaml.Node) error) error {
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode {
			return nodeErr(k, "mapping key must be a scalar")
		}
		if err := fn(k.Value, v); err != nil {
			return err
		}
	}
	return nil
}

func scalar(node *yaml.Node) (string, error) {
	if node.Kind != yaml.ScalarNode {
		return "", nodeErr(node, "expected a scalar value")
	}
	return strings.TrimSpace(node.Value), nil
}

func intScalar(node *yaml.Node) (int, error) {
	s, err := scalar(node)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, nodeErr(node, fmt.Sprintf("expected an integer, got %q", s))
	}
	return n, nil
}

func nodeErr(node *yaml.Node, msg string) error {
	return fmt.Errorf("line %d: %s", node.Line, msg)
}
