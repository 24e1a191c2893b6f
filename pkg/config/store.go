package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/agent-publisher/pkg/errs"
)

// Store 配置存储：启动时加载一次，之后只读
type Store struct {
	mu      sync.RWMutex
	general *Config
	plugins map[string]PluginProperties
}

// NewStore general 可为 nil，稍后调用 LoadGeneral
func NewStore(general *Config) *Store {
	return &Store{general: general, plugins: map[string]PluginProperties{}}
}

// LoadGeneral 读取全局配置文件
func (s *Store) LoadGeneral(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, errs.ConfigParse(path, err)
	}
	s.mu.Lock()
	s.general = cfg
	s.mu.Unlock()
	return cfg, nil
}

func (s *Store) General() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.general
}

// LoadPluginConfig 解析一个插件声明文件并按插件名存入
// 声明名须与所在目录名一致；校验失败时存储不变
func (s *Store) LoadPluginConfig(path string) (PluginProperties, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PluginProperties{}, errs.ConfigParse(path, err)
	}
	props, err := ParsePluginDeclaration(data)
	if err != nil {
		return PluginProperties{}, errs.ConfigParse(path, err)
	}
	props.Dir = filepath.Dir(path)
	if dir := filepath.Base(props.Dir); props.Name != dir {
		return PluginProperties{}, errs.ConfigParse(path, fmt.Errorf("declared name %q does not match directory %q", props.Name, dir))
	}

	// 已存在的同名声明来自其他目录时拒绝，保留原有条目
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.plugins[props.Name]; ok && prev.Dir != props.Dir {
		return PluginProperties{}, errs.ConfigParse(path, fmt.Errorf("plugin %q already declared in %s", props.Name, prev.Dir))
	}
	s.plugins[props.Name] = props
	return props, nil
}

// PropertiesOf 按插件名取声明
func (s *Store) PropertiesOf(name string) (PluginProperties, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plugins[name]
	return p, ok
}

// Names 已加载声明的插件名（排序）
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.plugins))
	for name := range s.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeclarationPath <plugin_root>/<group>/<name>/<name>.yaml
func (s *Store) DeclarationPath(group, name string) string {
	return filepath.Join(s.General().Agent.PluginRoot, group, name, name+DeclarationExt)
}

// QoSFilePath 相对路径基于 plugin_root
func (s *Store) QoSFilePath() string {
	cfg := s.General()
	if cfg.Bus.QoSFile == "" || filepath.IsAbs(cfg.Bus.QoSFile) {
		return cfg.Bus.QoSFile
	}
	return filepath.Join(cfg.Agent.PluginRoot, cfg.Bus.QoSFile)
}

// PluginRef 一个待加载的插件
type PluginRef struct {
	Group string
	Name  string
}

// PluginRefs 按分组目录名排序展开；match 正则匹配到的子目录追加在显式列表之后
func (s *Store) PluginRefs() ([]PluginRef, error) {
	agent := s.General().Agent
	groups := agent.Groups()
	matches := map[string]string{}
	for _, lib := range agent.PluginLibraries {
		matches[lib.Dir] = lib.Match
	}

	var refs []PluginRef
	for _, group := range agent.GroupNames() {
		seen := map[string]bool{}
		for _, name := range groups[group] {
			seen[name] = true
			refs = append(refs, PluginRef{Group: group, Name: name})
		}
		if matches[group] == "" {
			continue
		}
		found, err := s.discover(group, matches[group])
		if err != nil {
			return nil, errs.ConfigParse(filepath.Join(agent.PluginRoot, group), err)
		}
		for _, name := range found {
			if !seen[name] {
				seen[name] = true
				refs = append(refs, PluginRef{Group: group, Name: name})
			}
		}
	}
	return refs, nil
}

func (s *Store) discover(group, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid match %q: %w", pattern, err)
	}
	entries, err := os.ReadDir(filepath.Join(s.General().Agent.PluginRoot, group))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		if _, err := os.Stat(s.DeclarationPath(group, e.Name())); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
