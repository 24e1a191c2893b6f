package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	goplugin "plugin"
	"reflect"
	"sort"
	"sync"
)

var (
	ErrModuleNotFound = errors.New("plugin module not found")
	ErrSymbolNotFound = errors.New("plugin symbol not found")
	ErrNilPlugin      = errors.New("factory returned no plugin")
)

// Builtin 进程内置的模块表，内置插件在 init 中注册
var Builtin = NewBuiltinLoader()

// Register 向内置模块表注册一个工厂
func Register(module, symbol string, f Factory) {
	Builtin.Register(module, symbol, f)
}

// BuiltinLoader 以模块文件名（不含目录）为键的静态模块表
type BuiltinLoader struct {
	mu      sync.RWMutex
	modules map[string]map[string]Factory
}

func NewBuiltinLoader() *BuiltinLoader {
	return &BuiltinLoader{modules: map[string]map[string]Factory{}}
}

// Register 同一模块同一符号重复注册直接 panic
func (l *BuiltinLoader) Register(module, symbol string, f Factory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f == nil {
		panic("plugin: Register factory is nil for " + module + ":" + symbol)
	}
	syms, ok := l.modules[module]
	if !ok {
		syms = map[string]Factory{}
		l.modules[module] = syms
	}
	if _, dup := syms[symbol]; dup {
		panic("plugin: Register called twice for " + module + ":" + symbol)
	}
	syms[symbol] = f
}

// Modules 已注册的模块名（排序）
func (l *BuiltinLoader) Modules() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.modules))
	for name := range l.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *BuiltinLoader) Open(path string) (Module, error) {
	base := filepath.Base(path)
	l.mu.RLock()
	syms, ok := l.modules[base]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, base)
	}
	return builtinModule(syms), nil
}

type builtinModule map[string]Factory

func (m builtinModule) Lookup(symbol string) (Factory, error) {
	f, ok := m[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}
	return f, nil
}

func (m builtinModule) Close() error { return nil }

// SharedObjectLoader 通过 Go plugin 打开 .so 模块
type SharedObjectLoader struct{}

func (SharedObjectLoader) Open(path string) (Module, error) {
	p, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModuleNotFound, err)
	}
	return &sharedObject{p: p, path: path}, nil
}

type sharedObject struct {
	p    *goplugin.Plugin
	path string
}

// Lookup 导出符号可以是函数，也可以是指向 Factory 变量的指针
func (s *sharedObject) Lookup(symbol string) (Factory, error) {
	sym, err := s.p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrSymbolNotFound, symbol, s.path)
	}
	switch f := sym.(type) {
	case func(string, map[string]string) (Plugin, error):
		return f, nil
	case Factory:
		return f, nil
	case *Factory:
		if f == nil || *f == nil {
			return nil, fmt.Errorf("%w: %s is nil", ErrSymbolNotFound, symbol)
		}
		return *f, nil
	default:
		return nil, fmt.Errorf("symbol %s in %s has type %T, not a plugin factory", symbol, s.path, sym)
	}
}

// Close Go plugin 无法卸载，关闭只是释放引用
func (s *sharedObject) Close() error {
	s.p = nil
	return nil
}

// ChainLoader 依次尝试每个 loader，返回第一个成功打开的模块
type ChainLoader []Loader

func (c ChainLoader) Open(path string) (Module, error) {
	errList := make([]error, 0, len(c))
	for _, l := range c {
		m, err := l.Open(path)
		if err == nil {
			return m, nil
		}
		errList = append(errList, err)
	}
	if len(errList) == 0 {
		return nil, fmt.Errorf("%w: no loaders configured", ErrModuleNotFound)
	}
	return nil, errors.Join(errList...)
}

// DefaultLoader 先查内置表，再尝试 .so
func DefaultLoader() Loader {
	return ChainLoader{Builtin, SharedObjectLoader{}}
}

// Create 调用工厂；工厂 panic 或返回空插件都视为失败
func Create(f Factory, name string, props map[string]string) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			p = nil
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	p, err = f(name, props)
	if err != nil {
		return nil, err
	}
	if isNil(p) {
		return nil, ErrNilPlugin
	}
	return p, nil
}

// isNil 同时识别带类型的空指针，如 (*T)(nil)
func isNil(p Plugin) bool {
	if p == nil {
		return true
	}
	switch v := reflect.ValueOf(p); v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}
