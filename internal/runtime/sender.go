/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0.
 */

package runtime

import (
	"context"
	"net"
	"time"

	"ranet/internal/compression"
	"ranet/internal/logging"
	"ranet/internal/raft"
	"ranet/internal/transport"
)

// senderQueueSize bounds a peer sender's outbound buffer. A slow or
// unreachable peer falls behind rather than applying backpressure to
// the event loop.
const senderQueueSize = 64

const dialTimeout = 2 * time.Second

// peerSender owns exactly one outbound connection to one peer. It
// dials lazily on the first message, reuses the connection across
// sends, and resets to nil on any error so the next message redials —
// the long-lived-socket model this spec calls for, in place of the
// teacher's per-RPC net.DialTimeout in RaftNode.sendRequestVote.
type peerSender struct {
	addr       string
	compressor *compression.Compressor
	wireAlgo   compression.Algorithm
	log        *logging.Logger

	outbound chan raft.Message
	conn     net.Conn
}

func newPeerSender(addr string, compressor *compression.Compressor, algo compression.Algorithm, log *logging.Logger) *peerSender {
	return &peerSender{
		addr:       addr,
		compressor: compressor,
		wireAlgo:   algo,
		log:        log.With("peer", addr),
		outbound:   make(chan raft.Message, senderQueueSize),
	}
}

// enqueue buffers msg for delivery. A full queue drops msg rather than
// blocking the event loop that called routeOutgoing.
func (p *peerSender) enqueue(msg raft.Message) {
	select {
	case p.outbound <- msg:
	default:
		p.log.Warn("dropping outbound message: sender queue full")
	}
}

func (p *peerSender) run(ctx context.Context) error {
	defer func() {
		if p.conn != nil {
			p.conn.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.outbound:
			p.send(msg)
		}
	}
}

func (p *peerSender) send(msg raft.Message) {
	if p.conn == nil {
		conn, err := net.DialTimeout("tcp", p.addr, dialTimeout)
		if err != nil {
			p.log.Debug("dial failed", "error", err)
			return
		}
		p.conn = conn
	}

	var err error
	if p.wireAlgo == compression.AlgorithmNone {
		err = transport.SendMessage(p.conn, msg)
	} else {
		err = transport.SendCompressed(p.conn, msg, p.compressor)
	}
	if err != nil {
		p.log.Debug("send failed, resetting connection", "error", err)
		p.conn.Close()
		p.conn = nil
	}
}
