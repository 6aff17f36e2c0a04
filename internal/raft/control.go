/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0.
 */

package raft

// Control is the per-node side-effect boundary the core borrows: it
// exposes this node's own address, its peer set, an outbound message
// buffer that handlers append to, and the apply callback invoked when
// entries commit. Modeling it as an interface lets tests substitute an
// in-memory double for the real socket-backed runtime
// (internal/runtime.Harness).
type Control interface {
	// Address is this node's own peer id.
	Address() string
	// Peers returns the peer ids of every other node in the cluster
	// (excludes Address()). The slice is read-only cluster
	// configuration — stable for the process lifetime.
	Peers() []string
	// Send enqueues msg on the outbound buffer for this tick. The event
	// loop drains the buffer after the handler returns and routes each
	// message to the sender task addressed by its Dest field.
	Send(msg Message)
	// Apply delivers newly committed entries to the external state
	// machine. The core does not interpret entry items; it only knows
	// when they are safe to apply.
	Apply(entries []LogEntry)
}

// BufferedControl is a minimal Control implementation backed by an
// in-memory slice, used directly by the runtime harness (which drains
// Outgoing after every handler call) and by tests that want to inspect
// exactly what a handler emitted without a real socket.
type BufferedControl struct {
	address  string
	peers    []string
	Outgoing []Message
	ApplyFn  func(entries []LogEntry)
}

// NewBufferedControl returns a Control for node address with the given
// peer set (excluding address itself).
func NewBufferedControl(address string, peers []string, applyFn func(entries []LogEntry)) *BufferedControl {
	return &BufferedControl{address: address, peers: peers, ApplyFn: applyFn}
}

func (c *BufferedControl) Address() string { return c.address }

func (c *BufferedControl) Peers() []string { return c.peers }

func (c *BufferedControl) Send(msg Message) {
	c.Outgoing = append(c.Outgoing, msg)
}

func (c *BufferedControl) Apply(entries []LogEntry) {
	if c.ApplyFn != nil {
		c.ApplyFn(entries)
	}
}

// Drain returns and clears the buffered outgoing messages. The runtime
// harness calls this once per event-loop iteration, after the handler
// returns, per spec.md §2's data-flow description.
func (c *BufferedControl) Drain() []Message {
	out := c.Outgoing
	c.Outgoing = nil
	return out
}

// Majority returns the vote/commit majority threshold for a cluster of
// size n (including self): floor(n/2)+1.
func Majority(n int) int {
	return n/2 + 1
}
