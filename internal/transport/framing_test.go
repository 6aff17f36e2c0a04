/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

import (
	"bytes"
	"strings"
	"testing"

	"ranet/internal/compression"
	"ranet/internal/raft"
)

func TestWriteFrameHeaderWidth(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hi")); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	if buf.Len() != LengthFieldSize+2 {
		t.Fatalf("expected %d bytes, got %d", LengthFieldSize+2, buf.Len())
	}
	header := buf.Bytes()[:LengthFieldSize]
	if strings.TrimSpace(string(header)) != "2" {
		t.Errorf("expected trimmed header '2', got %q", string(header))
	}
}

func TestReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"request_vote"}`)
	if err := WriteFrame(&buf, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("expected %q, got %q", payload, got)
	}
}

func TestReadFrameMalformedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("not-a-num ")
	buf.WriteString("payload")

	if _, err := ReadFrame(&buf); err == nil {
		t.Error("expected malformed length error, got nil")
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("  99999999")

	if _, err := ReadFrame(&buf); err == nil {
		t.Error("expected frame-too-large error, got nil")
	}
}

func TestEncodeDecodeAppendEntries(t *testing.T) {
	original := raft.AppendEntries{
		Envelope:    raft.Envelope{Source: "127.0.0.1:15000", Dest: "127.0.0.1:15001", Term: 3},
		PrevIndex:   1,
		PrevTerm:    2,
		Entries:     []raft.LogEntry{{Term: 3, Item: []byte("set x 1")}},
		CommitIndex: 0,
	}

	encoded, err := EncodeMessage(original)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}

	got, ok := decoded.(raft.AppendEntries)
	if !ok {
		t.Fatalf("expected raft.AppendEntries, got %T", decoded)
	}
	if got.Source != original.Source || got.Dest != original.Dest || got.Term != original.Term {
		t.Errorf("envelope mismatch: got %+v, want %+v", got.Envelope, original.Envelope)
	}
	if got.PrevIndex != original.PrevIndex || got.PrevTerm != original.PrevTerm || got.CommitIndex != original.CommitIndex {
		t.Errorf("field mismatch: got %+v, want %+v", got, original)
	}
	if len(got.Entries) != 1 || string(got.Entries[0].Item) != "set x 1" {
		t.Errorf("entries mismatch: got %+v", got.Entries)
	}
}

func TestEncodeDecodeRequestVoteResponse(t *testing.T) {
	original := raft.RequestVoteResponse{
		Envelope:    raft.Envelope{Source: "a", Dest: "b", Term: 7},
		VoteGranted: true,
	}

	encoded, err := EncodeMessage(original)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}
	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	got, ok := decoded.(raft.RequestVoteResponse)
	if !ok {
		t.Fatalf("expected raft.RequestVoteResponse, got %T", decoded)
	}
	if !got.VoteGranted || got.Term != 7 {
		t.Errorf("unexpected decode result: %+v", got)
	}
}

func TestDecodeUnsupportedWireType(t *testing.T) {
	_, err := DecodeMessage([]byte(`{"type":"client_append_entry"}`))
	if err == nil {
		t.Error("expected error for unsupported wire type, got nil")
	}
}

func TestEncodeInternalCommandRejected(t *testing.T) {
	_, err := EncodeMessage(raft.RaftDebug{})
	if err == nil {
		t.Error("expected error encoding an internal command, got nil")
	}
}

func TestSendReceiveMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	original := raft.RequestVote{
		Envelope:     raft.Envelope{Source: "n0", Dest: "n1", Term: 2},
		LastLogIndex: 4,
		LastLogTerm:  2,
	}

	if err := SendMessage(&buf, original); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	decoded, err := ReceiveMessage(&buf)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	got, ok := decoded.(raft.RequestVote)
	if !ok {
		t.Fatalf("expected raft.RequestVote, got %T", decoded)
	}
	if got.LastLogIndex != 4 || got.LastLogTerm != 2 {
		t.Errorf("unexpected decode result: %+v", got)
	}
}

func TestSendReceiveCompressedRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	cfg := compression.DefaultConfig()
	cfg.MinSize = 0
	cfg.Algorithm = compression.AlgorithmSnappy
	c := compression.NewCompressor(cfg)

	entries := make([]raft.LogEntry, 50)
	for i := range entries {
		entries[i] = raft.LogEntry{Term: 1, Item: []byte("a log entry payload worth compressing")}
	}
	original := raft.AppendEntries{
		Envelope:    raft.Envelope{Source: "n0", Dest: "n1", Term: 1},
		PrevIndex:   -1,
		PrevTerm:    -1,
		Entries:     entries,
		CommitIndex: -1,
	}

	if err := SendCompressed(&buf, original, c); err != nil {
		t.Fatalf("SendCompressed failed: %v", err)
	}
	decoded, err := ReceiveCompressed(&buf, c, compression.AlgorithmSnappy)
	if err != nil {
		t.Fatalf("ReceiveCompressed failed: %v", err)
	}
	got, ok := decoded.(raft.AppendEntries)
	if !ok {
		t.Fatalf("expected raft.AppendEntries, got %T", decoded)
	}
	if len(got.Entries) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(got.Entries))
	}
}
