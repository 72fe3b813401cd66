package node

import (
	"math/rand"
	"sync"
	"time"
)

// Pool 节点池，按请求类别挑选可用节点
type Pool struct {
	nodes []Node

	mu     sync.Mutex
	cursor map[RequestType]int
	rnd    *rand.Rand
}

// NewPool 创建节点池
func NewPool(nodes ...Node) *Pool {
	return &Pool{
		nodes:  nodes,
		cursor: make(map[RequestType]int),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Nodes 返回全部节点
func (p *Pool) Nodes() []Node {
	out := make([]Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Available 返回当前可用的节点
func (p *Pool) Available() []Node {
	var out []Node
	for _, n := range p.nodes {
		if n.Status() == StatusAvailable {
			out = append(out, n)
		}
	}
	return out
}

// AnyAvailable 是否至少有一个节点可用
func (p *Pool) AnyAvailable() bool {
	for _, n := range p.nodes {
		if n.Status() == StatusAvailable {
			return true
		}
	}
	return false
}

// Select 按请求类别选择节点：播放请求选负载最低的节点，加载请求在可用节点间轮转
func (p *Pool) Select(rt RequestType) (Node, error) {
	available := p.Available()
	if len(available) == 0 {
		return nil, ErrNoAvailableNode
	}

	if rt == RequestPlayback {
		best := available[0]
		for _, n := range available[1:] {
			if n.Players() < best.Players() {
				best = n
			}
		}
		return best, nil
	}

	p.mu.Lock()
	idx := p.cursor[rt] % len(available)
	p.cursor[rt] = idx + 1
	p.mu.Unlock()
	return available[idx], nil
}

// SelectOther 随机选择一个除 exclude 之外的可用节点，没有时返回 nil
func (p *Pool) SelectOther(exclude Node) Node {
	var candidates []Node
	for _, n := range p.Available() {
		if n != exclude {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	p.mu.Lock()
	idx := p.rnd.Intn(len(candidates))
	p.mu.Unlock()
	return candidates[idx]
}
