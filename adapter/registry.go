package adapter

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry broker 名 -> 构造函数的静态注册表。进程启动时由 main 一次性
// 填充，之后只读；不做任何运行时反射式解析。
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register 注册一个 broker 构造函数。重复注册视为编程错误，直接 panic，
// 与进程启动期的一次性装配语义一致。
func (r *Registry) Register(name string, factory Factory) {
	name = strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic(fmt.Sprintf("adapter: duplicate broker registration %q", name))
	}
	r.factories[name] = factory
}

// New 按 broker 名构造 adapter。
func (r *Registry) New(name string, deps Deps, userID string) (Adapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBroker, name)
	}
	return factory(deps, userID), nil
}

// Brokers 返回已注册 broker 名（升序）。
func (r *Registry) Brokers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
