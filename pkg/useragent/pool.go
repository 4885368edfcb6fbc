package useragent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"
)

// DefaultPool holds desktop Chromium User-Agents. Capture drives a Chromium
// browser, so the probe and the browser must advertise the same engine.
var DefaultPool = []string{
	// Chrome Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	// Chrome Mac
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	// Chrome Linux
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	// Edge Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Rotation selects how Pool.Next picks the next User-Agent.
type Rotation string

const (
	Sequential Rotation = "sequential"
	Random     Rotation = "random"
)

// ParseRotation validates a rotation name. Empty means Sequential.
func ParseRotation(s string) (Rotation, error) {
	switch Rotation(s) {
	case "", Sequential:
		return Sequential, nil
	case Random:
		return Random, nil
	default:
		return "", fmt.Errorf("useragent: unknown rotation %q", s)
	}
}

// Pool is a fixed set of User-Agents handed out in rotation.
type Pool struct {
	uas      []string
	rotation Rotation
	counter  atomic.Uint64
}

// NewPool creates a new User-Agent pool. If the provided slice is empty,
// it falls back to DefaultPool.
func NewPool(uas []string, rotation Rotation) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	if rotation == "" {
		rotation = Sequential
	}
	copied := make([]string, len(uas))
	copy(copied, uas)
	return &Pool{
		uas:      copied,
		rotation: rotation,
	}
}

// Next returns a User-Agent according to the pool's rotation. Its signature
// matches httpclient.UserAgentFunc.
func (p *Pool) Next() string {
	if p.rotation == Random {
		return p.GetRandom()
	}
	return p.GetSequential()
}

// GetSequential returns the next User-Agent in round-robin order.
func (p *Pool) GetSequential() string {
	if len(p.uas) == 0 {
		return ""
	}
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// GetRandom returns a random User-Agent from the pool using crypto/rand.
func (p *Pool) GetRandom() string {
	if len(p.uas) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.GetSequential()
	}
	return p.uas[n.Int64()]
}

// GetAll returns a copy of all User-Agents currently in the pool.
func (p *Pool) GetAll() []string {
	copied := make([]string, len(p.uas))
	copy(copied, p.uas)
	return copied
}
