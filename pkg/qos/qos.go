package qos

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultProfile 表示使用传输层默认 QoS 的 profile 名
const DefaultProfile = "default"

type Reliability string

const (
	BestEffort Reliability = "best_effort"
	Reliable   Reliability = "reliable"
)

type Durability string

const (
	Volatile       Durability = "volatile"
	TransientLocal Durability = "transient_local"
	Persistent     Durability = "persistent"
)

// WriterQoS 写端策略集合
type WriterQoS struct {
	Reliability  Reliability `yaml:"reliability" mapstructure:"reliability" validate:"omitempty,oneof=best_effort reliable"`
	Durability   Durability  `yaml:"durability" mapstructure:"durability" validate:"omitempty,oneof=volatile transient_local persistent"`
	HistoryDepth int         `yaml:"history_depth" mapstructure:"history_depth" validate:"gte=0"`
	Priority     int         `yaml:"priority" mapstructure:"priority" validate:"gte=0,lte=9"`
}

// Default 传输层默认写端 QoS
func Default() WriterQoS {
	return WriterQoS{Reliability: BestEffort, Durability: Volatile, HistoryDepth: 1}
}

// WithDefaults 未设置的字段取默认值
func (w WriterQoS) WithDefaults() WriterQoS {
	d := Default()
	if w.Reliability == "" {
		w.Reliability = d.Reliability
	}
	if w.Durability == "" {
		w.Durability = d.Durability
	}
	if w.HistoryDepth < 1 {
		w.HistoryDepth = d.HistoryDepth
	}
	return w
}

func (w WriterQoS) IsReliable() bool { return w.Reliability == Reliable }

// IsDurable 历史数据需要在写端之外保留
func (w WriterQoS) IsDurable() bool { return w.Durability != "" && w.Durability != Volatile }

var valid = validator.New()

// Validate 按 validate 标签校验
func (w WriterQoS) Validate() error {
	if err := valid.Struct(w); err != nil {
		return fmt.Errorf("invalid writer qos: %w", err)
	}
	return nil
}

// Selection 一个通道的 QoS 选择：显式写端 QoS 优先，否则按库/profile 查找
type Selection struct {
	Library string
	Profile string
	Writer  *WriterQoS
}

// Profile QoS 库中的一个命名 profile
type Profile struct {
	Name   string    `yaml:"name"`
	Writer WriterQoS `yaml:"writer"`
}

// Library 命名的 profile 集合
type Library struct {
	Name     string    `yaml:"name"`
	Profiles []Profile `yaml:"profiles"`
}

// File QoS 库文件
type File struct {
	Libraries []Library `yaml:"libraries"`
}

var (
	ErrUnknownLibrary = errors.New("unknown qos library")
	ErrUnknownProfile = errors.New("unknown qos profile")
)

// Provider 解析库/profile，提供会话级默认值
type Provider struct {
	libraries      map[string]map[string]WriterQoS
	defaultLibrary string
	defaultProfile string
}

// NewProvider 以已解析的库文件构造；file 可为 nil
func NewProvider(file *File, defaultLibrary, defaultProfile string) (*Provider, error) {
	p := &Provider{
		libraries:      map[string]map[string]WriterQoS{},
		defaultLibrary: defaultLibrary,
		defaultProfile: defaultProfile,
	}
	if p.defaultProfile == "" {
		p.defaultProfile = DefaultProfile
	}
	if file != nil {
		for _, lib := range file.Libraries {
			if lib.Name == "" {
				return nil, errors.New("qos library without name")
			}
			profiles := map[string]WriterQoS{}
			for _, prof := range lib.Profiles {
				if prof.Name == "" {
					return nil, fmt.Errorf("qos library %s: profile without name", lib.Name)
				}
				if err := prof.Writer.Validate(); err != nil {
					return nil, fmt.Errorf("qos profile %s::%s: %w", lib.Name, prof.Name, err)
				}
				profiles[prof.Name] = prof.Writer.WithDefaults()
			}
			p.libraries[lib.Name] = profiles
		}
	}
	// 默认 profile 必须可解析，否则会话无法打开
	if _, err := p.Lookup(p.defaultLibrary, p.defaultProfile); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile 读取 YAML 格式的 QoS 库文件
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read qos file %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse qos file %s: %w", path, err)
	}
	return &f, nil
}

// Lookup 按库/profile 查找；profile 为 "default" 时返回传输层默认值
func (p *Provider) Lookup(library, profile string) (WriterQoS, error) {
	if strings.EqualFold(profile, DefaultProfile) {
		return Default(), nil
	}
	profiles, ok := p.libraries[library]
	if !ok {
		return WriterQoS{}, fmt.Errorf("%w: %q", ErrUnknownLibrary, library)
	}
	w, ok := profiles[profile]
	if !ok {
		return WriterQoS{}, fmt.Errorf("%w: %q in library %q", ErrUnknownProfile, profile, library)
	}
	return w, nil
}

// Resolve 显式写端 QoS 原样使用，否则查库；空的库/profile 使用会话默认值
func (p *Provider) Resolve(sel Selection) (WriterQoS, error) {
	if sel.Writer != nil {
		if err := sel.Writer.Validate(); err != nil {
			return WriterQoS{}, err
		}
		return *sel.Writer, nil
	}
	library, profile := sel.Library, sel.Profile
	if library == "" {
		library = p.defaultLibrary
	}
	if profile == "" {
		profile = p.defaultProfile
	}
	return p.Lookup(library, profile)
}

// SessionDefault 会话级默认写端 QoS
func (p *Provider) SessionDefault() WriterQoS {
	w, _ := p.Lookup(p.defaultLibrary, p.defaultProfile)
	return w
}
