package errs

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	KindUnknown Kind = iota
	KindConfigParse
	KindModuleLoad
	KindFactory
	KindChannelProvision
	KindPublish
)

func (k Kind) String() string {
	switch k {
	case KindConfigParse:
		return "config_parse"
	case KindModuleLoad:
		return "module_load"
	case KindFactory:
		return "factory"
	case KindChannelProvision:
		return "channel_provision"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// 哨兵错误，errors.Is 按 Kind 匹配
var (
	ErrConfigParse      = &Error{Kind: KindConfigParse}
	ErrModuleLoad       = &Error{Kind: KindModuleLoad}
	ErrFactory          = &Error{Kind: KindFactory}
	ErrChannelProvision = &Error{Kind: KindChannelProvision}
	ErrPublish          = &Error{Kind: KindPublish}
)

// Error 带插件名/文件路径上下文的分类错误
type Error struct {
	Kind   Kind
	Plugin string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String() + " error"
	if e.Plugin != "" {
		msg += fmt.Sprintf(" [plugin=%s]", e.Plugin)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" [path=%s]", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is 同类错误视为相等
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, plugin, path string, err error) *Error {
	return &Error{Kind: kind, Plugin: plugin, Path: path, Err: err}
}

func ConfigParse(path string, err error) error {
	return New(KindConfigParse, "", path, err)
}

func ModuleLoad(plugin, path string, err error) error {
	return New(KindModuleLoad, plugin, path, err)
}

func Factory(plugin string, err error) error {
	return New(KindFactory, plugin, "", err)
}

func ChannelProvision(plugin string, err error) error {
	return New(KindChannelProvision, plugin, "", err)
}

func Publish(plugin string, err error) error {
	return New(KindPublish, plugin, "", err)
}

// KindOf 返回错误链中第一个分类错误的 Kind
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsFatal 除发布错误外的分类错误都会终止启动
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return KindOf(err) != KindPublish
}
