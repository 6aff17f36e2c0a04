/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0.
 */

package raft

import (
	"math/rand"

	raftErrors "ranet/internal/errors"
	"ranet/internal/logging"
)

var coreLog = logging.NewLogger("raft")

// BecomeFollower transitions s to Follower and clears VotedFor. Callable
// from any role. It does not touch CurrentTerm — the caller updates the
// term first when stepping down because of a higher-term message.
func BecomeFollower(s *ServerState, c Control) {
	s.Role = Follower
	s.VotedFor = NoVote
	coreLog.Info("role transition", "node", c.Address(), "role", Follower.String(), "term", s.CurrentTerm)
}

// BecomeCandidate transitions s to Candidate, increments CurrentTerm,
// votes for self, clears VotesGranted, and broadcasts RequestVote to
// every peer.
func BecomeCandidate(s *ServerState, c Control) {
	s.Role = Candidate
	s.CurrentTerm++
	s.VotedFor = c.Address()
	s.VotesGranted = make(map[string]bool)

	coreLog.Info("role transition", "node", c.Address(), "role", Candidate.String(), "term", s.CurrentTerm)

	for _, peer := range c.Peers() {
		c.Send(RequestVote{
			Envelope:     Envelope{Source: c.Address(), Dest: peer, Term: s.CurrentTerm},
			LastLogIndex: s.Log.LastIndex(),
			LastLogTerm:  s.Log.LastTerm(),
		})
	}
}

// BecomeLeader transitions s to Leader, initializes NextIndex/MatchIndex
// for every peer, and broadcasts an initial AppendEntries to establish
// authority.
func BecomeLeader(s *ServerState, c Control) {
	s.Role = Leader
	s.NextIndex = make(map[string]int)
	s.MatchIndex = make(map[string]int)
	for _, peer := range c.Peers() {
		s.NextIndex[peer] = s.Log.Len()
		s.MatchIndex[peer] = NoIndex
	}

	coreLog.Info("role transition", "node", c.Address(), "role", Leader.String(), "term", s.CurrentTerm)

	sendAllAppendEntries(s, c)
}

// HandleHeartbeatTick fires every HEARTBEAT_TIMER seconds, process-wide.
// A leader sends one AppendEntries to every peer; anyone else no-ops.
func HandleHeartbeatTick(s *ServerState, c Control) {
	if s.Role != Leader {
		return
	}
	sendAllAppendEntries(s, c)
}

// HandleElectionTimeoutTick fires every ELECTION_TIMER_BASE +
// rand*ELECTION_TIMER_JITTER seconds. This implements the two-tick flag
// model of spec.md §4.3: a leader never times out; a tick that observes
// HeardFromLeader consumes the flag and does nothing; the next tick
// without intervening traffic starts an election. This yields an
// effective timeout between 1x and 2x the tick period.
func HandleElectionTimeoutTick(s *ServerState, c Control) {
	if s.Role == Leader {
		return
	}
	if s.HeardFromLeader {
		s.HeardFromLeader = false
		return
	}
	BecomeCandidate(s, c)
}

// sendOneAppendEntries sends a single AppendEntries to node, built from
// this leader's current NextIndex[node]. Entries may be empty (a
// heartbeat) or non-empty (a replication attempt).
func sendOneAppendEntries(s *ServerState, c Control, node string) {
	i := s.NextIndex[node]
	prevIndex := i - 1
	prevTerm := s.Log.TermAt(prevIndex)
	entries := s.Log.Slice(i)

	c.Send(AppendEntries{
		Envelope:    Envelope{Source: c.Address(), Dest: node, Term: s.CurrentTerm},
		PrevIndex:   prevIndex,
		PrevTerm:    prevTerm,
		Entries:     entries,
		CommitIndex: s.CommitIndex,
	})
}

// sendAllAppendEntries invokes sendOneAppendEntries for every peer.
func sendAllAppendEntries(s *ServerState, c Control) {
	for _, peer := range c.Peers() {
		sendOneAppendEntries(s, c, peer)
	}
}

// HandleMessage is the single entry point the runtime event loop calls
// for every dequeued event. Dispatch order follows spec.md §4.5:
//
//  1. ClientAppendEntry bypasses the term check entirely.
//  2. RaftDebug bypasses the term check entirely.
//  3. Every other (network) message runs the term check first: a higher
//     term forces a step-down to follower before the message is
//     dispatched to its specific handler; a stale (lower-term) message
//     is dropped without being dispatched at all.
func HandleMessage(s *ServerState, c Control, msg Message) error {
	switch m := msg.(type) {
	case ClientAppendEntry:
		return handleClientAppend(s, c, m)
	case RaftDebug:
		handleRaftDebug(s, c)
		return nil
	case HeartbeatTick:
		HandleHeartbeatTick(s, c)
		return nil
	case ElectionTimeoutTick:
		HandleElectionTimeoutTick(s, c)
		return nil
	}

	if !isNetworkMessage(msg) {
		return nil
	}

	term := msgTerm(msg)
	if term > s.CurrentTerm {
		s.CurrentTerm = term
		BecomeFollower(s, c)
	}
	if term < s.CurrentTerm {
		// Stale message: silently dropped (spec.md §7).
		return nil
	}

	switch m := msg.(type) {
	case AppendEntries:
		handleAppendEntries(s, c, m)
	case AppendEntriesResponse:
		handleAppendEntriesResponse(s, c, m)
	case RequestVote:
		handleRequestVote(s, c, m)
	case RequestVoteResponse:
		handleRequestVoteResponse(s, c, m)
	}
	return nil
}

func handleRaftDebug(s *ServerState, c Control) {
	coreLog.Info("debug state", "node", c.Address(), "state", s.String())
}

// handleAppendEntries processes an incoming AppendEntries RPC.
func handleAppendEntries(s *ServerState, c Control, m AppendEntries) {
	if s.Role == Candidate {
		BecomeFollower(s, c)
	}

	reply := AppendEntriesResponse{
		Envelope: Envelope{Source: c.Address(), Dest: m.Source, Term: s.CurrentTerm},
	}

	if s.Role == Follower {
		success := s.Log.Append(m.PrevIndex, m.PrevTerm, m.Entries)
		matchIndex := m.PrevIndex + len(m.Entries)

		if m.CommitIndex > s.CommitIndex {
			newCommit := m.CommitIndex
			if last := s.Log.LastIndex(); newCommit > last {
				newCommit = last
			}
			s.CommitIndex = newCommit
			ApplyStateMachine(s, c)
		}
		s.HeardFromLeader = true

		reply.Success = success
		if success {
			reply.MatchIndex = matchIndex
		} else {
			// A failed append carries no meaningful match index; the
			// leader ignores MatchIndex on the failure branch, but a
			// sentinel is safer than a possibly-out-of-range value
			// (spec.md §9).
			reply.MatchIndex = NoIndex
		}
	}

	c.Send(reply)
}

// handleAppendEntriesResponse processes a follower's reply to an
// AppendEntries this leader sent.
func handleAppendEntriesResponse(s *ServerState, c Control, m AppendEntriesResponse) {
	if s.Role != Leader {
		return
	}

	if m.Success {
		s.NextIndex[m.Source] = m.MatchIndex + 1
		s.MatchIndex[m.Source] = m.MatchIndex
		maybeAdvanceCommitIndex(s, c)
		return
	}

	if s.NextIndex[m.Source] > 0 {
		s.NextIndex[m.Source]--
	}
	sendOneAppendEntries(s, c, m.Source)
}

// maybeAdvanceCommitIndex sorts the leader's own last log index together
// with every peer's MatchIndex and takes the lower median, the highest
// index a majority of the cluster holds (the leader's own log is always
// ahead or equal, so this matches the upper median of the peers alone).
// It commits up to that index, provided the entry at that index belongs
// to the current term. This is the safety rule of Raft §5.4.2: a leader
// never commits an entry from a previous term by counting replicas
// alone — it only commits by counting replicas of an entry from its own
// term, and earlier entries ride along transitively via the log-matching
// property.
func maybeAdvanceCommitIndex(s *ServerState, c Control) {
	peers := c.Peers()
	matchIndexes := make([]int, 0, len(peers)+1)
	matchIndexes = append(matchIndexes, s.Log.LastIndex())
	for _, peer := range peers {
		matchIndexes = append(matchIndexes, s.MatchIndex[peer])
	}

	sortInts(matchIndexes)
	median := matchIndexes[(len(matchIndexes)-1)/2]

	if median > s.CommitIndex && median >= 0 && s.Log.TermAt(median) == s.CurrentTerm {
		s.CommitIndex = median
		ApplyStateMachine(s, c)
	}
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}

// handleRequestVote processes an incoming RequestVote RPC. By the time
// this runs, the term check in HandleMessage may already have reset
// VotedFor if m.Term > s.CurrentTerm.
func handleRequestVote(s *ServerState, c Control, m RequestVote) {
	reply := RequestVoteResponse{
		Envelope: Envelope{Source: c.Address(), Dest: m.Source, Term: s.CurrentTerm},
	}

	alreadyVotedElsewhere := s.VotedFor != NoVote && s.VotedFor != m.Source
	logOK := m.LastLogTerm > s.Log.LastTerm() ||
		(m.LastLogTerm == s.Log.LastTerm() && m.LastLogIndex >= s.Log.LastIndex())

	if !alreadyVotedElsewhere && logOK {
		s.VotedFor = m.Source
		reply.VoteGranted = true
	}

	c.Send(reply)
}

// handleRequestVoteResponse processes a vote reply. Reaching a majority
// of peer votes (self excluded; the candidate's own vote is implicit)
// promotes this node to leader.
func handleRequestVoteResponse(s *ServerState, c Control, m RequestVoteResponse) {
	if s.Role != Candidate || !m.VoteGranted {
		return
	}
	if s.VotesGranted == nil {
		s.VotesGranted = make(map[string]bool)
	}
	s.VotesGranted[m.Source] = true

	if len(s.VotesGranted) >= len(c.Peers())/2 {
		BecomeLeader(s, c)
	}
}

// handleClientAppend processes the internal ClientAppendEntry command
// (injected by the REPL's client-append-entry(item) command). Only a
// leader may append; any other role rejects with an explicit error per
// spec.md §7's "Client append on non-leader" case.
func handleClientAppend(s *ServerState, c Control, m ClientAppendEntry) error {
	if s.Role != Leader {
		return raftErrors.NotLeader(c.Address())
	}

	entry := LogEntry{Term: s.CurrentTerm, Item: m.Item}
	s.Log.Append(s.Log.LastIndex(), s.Log.LastTerm(), []LogEntry{entry})
	return nil
}

// ApplyStateMachine delivers any newly committed entries to Control's
// apply callback and advances LastApplied to CommitIndex. This is the
// only place LastApplied changes, preserving the invariant
// LastApplied <= CommitIndex.
func ApplyStateMachine(s *ServerState, c Control) {
	if s.CommitIndex <= s.LastApplied {
		return
	}
	batch := make([]LogEntry, 0, s.CommitIndex-s.LastApplied)
	for i := s.LastApplied + 1; i <= s.CommitIndex; i++ {
		batch = append(batch, s.Log.At(i))
	}
	c.Apply(batch)
	s.LastApplied = s.CommitIndex
}

// ElectionJitter returns a fresh random factor in [0, 1) for the runtime
// harness's election ticker to scale ELECTION_TIMER_JITTER by on every
// tick (see spec.md §4.3 and §9 for the two accepted timeout models).
func ElectionJitter() float64 {
	return rand.Float64()
}
