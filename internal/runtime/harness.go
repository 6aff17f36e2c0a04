/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0.
 */

/*
Package runtime is the socket-backed harness that turns the pure
internal/raft core into a running node: a TCP listener, one persistent
sender per peer, a heartbeat ticker, an election ticker, and the
single-threaded event loop that is the only goroutine allowed to touch
a node's raft.ServerState.

Every other goroutine in this package only ever writes to the shared
inbound channel; none of them read or mutate ServerState directly. This
mirrors the teacher's internal/cluster.RaftNode goroutine-per-concern
layout (acceptConnections / runElectionTimer / applyCommittedEntries /
sendHeartbeats) while replacing its per-RPC mutex-guarded state with a
single-writer channel architecture, per the concurrency model this
spec calls for.
*/
package runtime

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ranet/internal/clusteraudit"
	"ranet/internal/compression"
	"ranet/internal/config"
	"ranet/internal/logging"
	"ranet/internal/raft"
	"ranet/internal/transport"
)

// inboundBuffer bounds how many undelivered events can queue before the
// event loop falls behind. Ticks and Submit'ed commands beyond this are
// dropped; a connection reader instead waits for room (or shutdown)
// before reading its next frame.
const inboundBuffer = 256

// Harness wires a raft.ServerState to real sockets. Address is this
// node's own listen address; Peers lists every other node.
type Harness struct {
	Address string
	Peers   []string

	cfg   *config.Config
	state *raft.ServerState
	ctrl  *raft.BufferedControl
	audit *clusteraudit.Recorder
	log   *logging.Logger

	compressor *compression.Compressor
	wireAlgo   compression.Algorithm

	inbound chan raft.Message
	senders map[string]*peerSender

	appliedMu sync.Mutex
	applied   []raft.LogEntry

	lastTerm int
}

// New builds a Harness for address, with the given peer set and
// config. audit may be nil, in which case cluster events are not
// recorded.
func New(address string, peers []string, cfg *config.Config, audit *clusteraudit.Recorder) (*Harness, error) {
	algo, err := compression.ParseAlgorithm(cfg.WireCompression)
	if err != nil {
		return nil, err
	}

	compressorCfg := compression.DefaultConfig()
	compressorCfg.Algorithm = algo

	h := &Harness{
		Address:    address,
		Peers:      peers,
		cfg:        cfg,
		audit:      audit,
		log:        logging.NewLogger("runtime").With("node", address),
		compressor: compression.NewCompressor(compressorCfg),
		wireAlgo:   algo,
		inbound:    make(chan raft.Message, inboundBuffer),
		senders:    make(map[string]*peerSender, len(peers)),
	}
	h.state = raft.NewServerState()
	h.ctrl = raft.NewBufferedControl(address, peers, h.recordApply)
	h.lastTerm = h.state.CurrentTerm

	for _, peer := range peers {
		h.senders[peer] = newPeerSender(peer, h.compressor, h.wireAlgo, h.log)
	}

	return h, nil
}

// Submit injects an internal command (ClientAppendEntry, RaftDebug)
// into the event loop from outside the harness, non-blocking: a full
// inbound buffer drops the command, matching how ticks are dropped
// under backpressure.
func (h *Harness) Submit(msg raft.Message) bool {
	select {
	case h.inbound <- msg:
		return true
	default:
		return false
	}
}

// Applied returns a copy of every log entry applied so far, oldest
// first. Used by tests to observe what the apply callback delivered.
func (h *Harness) Applied() []raft.LogEntry {
	h.appliedMu.Lock()
	defer h.appliedMu.Unlock()
	out := make([]raft.LogEntry, len(h.applied))
	copy(out, h.applied)
	return out
}

// State returns the live ServerState. Callers outside the event-loop
// goroutine must treat the result as a point-in-time snapshot only;
// the harness does not synchronize external reads against in-flight
// mutations.
func (h *Harness) State() *raft.ServerState {
	return h.state
}

// Run starts every harness goroutine and blocks until ctx is
// cancelled or one of them returns an error.
func (h *Harness) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return h.runListener(ctx) })
	g.Go(func() error { return h.runHeartbeatTicker(ctx) })
	g.Go(func() error { return h.runElectionTicker(ctx) })
	g.Go(func() error { return h.runEventLoop(ctx) })
	for _, sender := range h.senders {
		sender := sender
		g.Go(func() error { return sender.run(ctx) })
	}

	return g.Wait()
}

func (h *Harness) runEventLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-h.inbound:
			h.dispatch(msg)
		}
	}
}

func (h *Harness) dispatch(msg raft.Message) {
	beforeRole := h.state.Role
	beforeTerm := h.state.CurrentTerm

	if err := raft.HandleMessage(h.state, h.ctrl, msg); err != nil {
		h.log.Warn("handler returned error", "error", err)
	}

	if h.state.Role != beforeRole {
		fmt.Printf("%s BECAME %s\n", h.Address, h.state.Role.String())
		if h.audit != nil && h.state.Role != raft.Follower {
			h.audit.LeaderElection(h.Address, h.state.Role.String(), h.state.CurrentTerm)
		}
	}
	if h.state.CurrentTerm != beforeTerm && h.audit != nil {
		h.audit.TermChange(h.Address, h.state.CurrentTerm, "observed higher term or started election")
	}

	h.routeOutgoing()
}

// routeOutgoing drains the handler's outbound buffer and hands each
// message to the sender task addressed by its Dest field.
func (h *Harness) routeOutgoing() {
	for _, msg := range h.ctrl.Drain() {
		dest := raft.MessageDest(msg)
		sender, ok := h.senders[dest]
		if !ok {
			h.log.Warn("no sender for destination", "dest", dest)
			continue
		}
		sender.enqueue(msg)
	}
}

// recordApply is the BufferedControl apply callback: it stores newly
// committed entries for introspection and emits the audit event.
func (h *Harness) recordApply(entries []raft.LogEntry) {
	h.appliedMu.Lock()
	h.applied = append(h.applied, entries...)
	h.appliedMu.Unlock()

	for _, e := range entries {
		fmt.Printf("%s APPLY %q (term %d)\n", h.Address, e.Item, e.Term)
	}
	if h.audit != nil {
		h.audit.CommitAdvance(h.Address, h.state.CurrentTerm, h.state.CommitIndex)
	}
}

func (h *Harness) runListener(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.Address)
	if err != nil {
		return fmt.Errorf("runtime: listen on %s: %w", h.Address, err)
	}
	h.log.Info("listening", "addr", h.Address)
	if h.audit != nil {
		h.audit.NodeJoin(h.Address)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				h.log.Warn("accept failed", "error", err)
				continue
			}
		}
		go h.handleConn(ctx, conn)
	}
}

// handleConn reads frames from a single inbound connection until it
// errors or closes, pushing each decoded message onto the inbound
// channel. One goroutine per connection; the connection itself carries
// an unbounded stream of frames from whichever peer dialed us.
func (h *Harness) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		var msg raft.Message
		var err error
		if h.wireAlgo == compression.AlgorithmNone {
			msg, err = transport.ReceiveMessage(conn)
		} else {
			msg, err = transport.ReceiveCompressed(conn, h.compressor, h.wireAlgo)
		}
		if err != nil {
			return
		}
		select {
		case h.inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (h *Harness) runHeartbeatTicker(ctx context.Context) error {
	t := time.NewTicker(time.Duration(h.cfg.HeartbeatMillis) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			h.Submit(raft.HeartbeatTick{})
		}
	}
}

// runElectionTicker fires every ElectionBaseMillis +
// rand*ElectionJitterMillis, implementing the two-tick timeout model
// HandleElectionTimeoutTick expects.
func (h *Harness) runElectionTicker(ctx context.Context) error {
	for {
		delay := time.Duration(h.cfg.ElectionBaseMillis)*time.Millisecond +
			time.Duration(raft.ElectionJitter()*float64(h.cfg.ElectionJitterMillis))*time.Millisecond

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
			h.Submit(raft.ElectionTimeoutTick{})
		}
	}
}
