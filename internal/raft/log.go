/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0.
 */

package raft

// LogEntry is an immutable (term, item) pair. Its index is implicit: the
// entry's position in the owning Log.
type LogEntry struct {
	Term int    `json:"term"`
	Item []byte `json:"item"`
}

// Log is an ordered, mutable sequence of LogEntry. Indices are contiguous
// starting at 0. The log-matching property (two logs sharing (index, term)
// are identical on every earlier entry) is maintained inductively by
// Append, the only mutator.
type Log struct {
	entries []LogEntry
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{}
}

// Len returns the number of entries in the log.
func (l *Log) Len() int {
	return len(l.entries)
}

// At returns the entry at index i. The caller must ensure 0 <= i < Len().
func (l *Log) At(i int) LogEntry {
	return l.entries[i]
}

// LastIndex returns the index of the last entry, or NoIndex if the log is
// empty.
func (l *Log) LastIndex() int {
	return len(l.entries) - 1
}

// LastTerm returns the term of the last entry, or NoIndex if the log is
// empty.
func (l *Log) LastTerm() int {
	if l.Len() == 0 {
		return NoIndex
	}
	return l.entries[l.LastIndex()].Term
}

// TermAt returns the term of the entry at prevIndex, or NoIndex if
// prevIndex is NoIndex (the "no prior entry" sentinel).
func (l *Log) TermAt(prevIndex int) int {
	if prevIndex < 0 {
		return NoIndex
	}
	return l.entries[prevIndex].Term
}

// Slice returns a copy of the entries from index i to the end of the log.
func (l *Log) Slice(i int) []LogEntry {
	out := make([]LogEntry, len(l.entries)-i)
	copy(out, l.entries[i:])
	return out
}

// Append applies the log-matching check and mutates the log in place,
// per spec.md §4.1:
//
//  1. prevIndex >= Len(): would leave a hole, return false.
//  2. prevIndex < 0: replace the entire log with entries, return true
//     (bootstrap / full overwrite from index 0).
//  3. log[prevIndex].Term != prevTerm: log-matching violation, return
//     false.
//  4. Otherwise: truncate at prevIndex+1, discarding any conflicting
//     suffix, append entries, return true.
//
// A retransmitted append with the same (prevIndex, prevTerm, entries)
// yields the same log: truncation only ever discards entries past
// prevIndex, so replaying an already-applied append is a no-op write of
// identical data.
func (l *Log) Append(prevIndex, prevTerm int, entries []LogEntry) bool {
	if prevIndex >= l.Len() {
		return false
	}
	if prevIndex < 0 {
		l.entries = append([]LogEntry(nil), entries...)
		return true
	}
	if l.entries[prevIndex].Term != prevTerm {
		return false
	}
	l.entries = append(l.entries[:prevIndex+1:prevIndex+1], entries...)
	return true
}
