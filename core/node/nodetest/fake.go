// Package nodetest 提供测试用的内存节点
package nodetest

import (
	"context"
	"sync"
	"time"

	"QFMBot/core/node"
)

// FakeNode 可编程的节点，记录每次加载请求
type FakeNode struct {
	name string

	mu         sync.Mutex
	status     node.Status
	players    int
	calls      []string
	starts     int
	ready      chan struct{}
	readyDelay time.Duration
	startErr   error
	updates    map[string][]node.PlayerUpdate
	destroyed  []string

	// LoadFunc 为空时返回 empty 结果
	LoadFunc func(ctx context.Context, identifier string) (*node.LoadResult, error)
}

var _ node.PlayerNode = (*FakeNode)(nil)

// New 创建指定状态的节点
func New(name string, status node.Status) *FakeNode {
	n := &FakeNode{name: name, status: status, ready: make(chan struct{}), updates: make(map[string][]node.PlayerUpdate)}
	if status == node.StatusAvailable {
		close(n.ready)
	}
	return n
}

func (n *FakeNode) Name() string { return n.name }

func (n *FakeNode) Status() node.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

// SetStatus 修改状态
func (n *FakeNode) SetStatus(s node.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = s
}

func (n *FakeNode) Players() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.players
}

// SetPlayers 设置负载
func (n *FakeNode) SetPlayers(p int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.players = p
}

// SetReadyDelay 设置 Start 之后多久变为可用
func (n *FakeNode) SetReadyDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readyDelay = d
}

// FailStart 让 Start 返回错误且永不就绪
func (n *FakeNode) FailStart(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.startErr = err
}

func (n *FakeNode) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.starts++
	if n.startErr != nil {
		return n.startErr
	}
	if n.status != node.StatusUnavailable {
		return nil
	}
	n.status = node.StatusConnecting
	ready, delay := n.ready, n.readyDelay
	go func() {
		time.Sleep(delay)
		n.mu.Lock()
		n.status = node.StatusAvailable
		n.mu.Unlock()
		close(ready)
	}()
	return nil
}

// Starts Start 被调用的次数
func (n *FakeNode) Starts() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.starts
}

func (n *FakeNode) WaitForReady(ctx context.Context) error {
	n.mu.Lock()
	ready := n.ready
	n.mu.Unlock()
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *FakeNode) LoadTracks(ctx context.Context, identifier string) (*node.LoadResult, error) {
	n.mu.Lock()
	n.calls = append(n.calls, identifier)
	fn := n.LoadFunc
	n.mu.Unlock()

	if fn == nil {
		return &node.LoadResult{Type: node.LoadEmpty}, nil
	}
	return fn(ctx, identifier)
}

// Calls 返回收到的加载标识
func (n *FakeNode) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	copy(out, n.calls)
	return out
}

func (n *FakeNode) UpdatePlayer(ctx context.Context, guildID string, update node.PlayerUpdate) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.updates[guildID]; !ok {
		n.players++
	}
	n.updates[guildID] = append(n.updates[guildID], update)
	return nil
}

func (n *FakeNode) DestroyPlayer(ctx context.Context, guildID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.updates[guildID]; ok {
		delete(n.updates, guildID)
		n.players--
	}
	n.destroyed = append(n.destroyed, guildID)
	return nil
}

// Updates 返回某个播放器收到的更新
func (n *FakeNode) Updates(guildID string) []node.PlayerUpdate {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]node.PlayerUpdate, len(n.updates[guildID]))
	copy(out, n.updates[guildID])
	return out
}

// Destroyed 返回被销毁的播放器
func (n *FakeNode) Destroyed() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.destroyed))
	copy(out, n.destroyed)
	return out
}
