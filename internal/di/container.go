// internal/di/container.go
package di

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Container 是一个简单的依赖注入容器. Services may register a close hook;
// CloseAll runs the hooks in reverse registration order.
type Container struct {
	services map[string]interface{}
	closers  []namedCloser
	mutex    sync.RWMutex
}

type namedCloser struct {
	name string
	fn   func(ctx context.Context) error
}

// 全局容器实例（单例模式）
var (
	globalContainer *Container
	once            sync.Once
)

// NewContainer 创建一个新的依赖注入容器
func NewContainer() *Container {
	return &Container{
		services: make(map[string]interface{}),
	}
}

// GetContainer 获取全局容器实例
func GetContainer() *Container {
	once.Do(func() {
		globalContainer = NewContainer()
	})
	return globalContainer
}

// Register 在容器中注册一个服务实例
func (c *Container) Register(name string, service interface{}) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
}

// RegisterWithCloser registers service and the hook that releases it
func (c *Container) RegisterWithCloser(name string, service interface{}, closer func(ctx context.Context) error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services[name] = service
	if closer != nil {
		c.closers = append(c.closers, namedCloser{name: name, fn: closer})
	}
}

// Get 从容器中获取一个服务实例
func (c *Container) Get(name string) interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	return c.services[name]
}

// Resolve returns the service registered under name as a T
func Resolve[T any](c *Container, name string) (T, error) {
	var zero T
	service := c.Get(name)
	if service == nil {
		return zero, fmt.Errorf("service %q not registered", name)
	}
	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("service %q has type %T", name, service)
	}
	return typed, nil
}

// Has 检查容器中是否存在指定名称的服务
func (c *Container) Has(name string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	_, exists := c.services[name]
	return exists
}

// CloseAll runs every close hook, newest first, and forgets them
func (c *Container) CloseAll(ctx context.Context) error {
	c.mutex.Lock()
	closers := c.closers
	c.closers = nil
	c.mutex.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", closers[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// Clear 清空容器中的所有服务 without running close hooks
func (c *Container) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.services = make(map[string]interface{})
	c.closers = nil
}

// GetNames 获取所有已注册服务的名称, sorted
func (c *Container) GetNames() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	names := make([]string, 0, len(c.services))
	for name := range c.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
