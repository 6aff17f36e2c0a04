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

/*
Package transport implements ranet's wire framing: a 10-byte ASCII
decimal length prefix (right-justified, space-padded) followed by
exactly that many bytes of payload.

Message Format:
===============

	+----------------------------------+-------------------------+
	|   Length (10 ASCII decimal, RJ)   |  Payload (JSON, tagged)  |
	+----------------------------------+-------------------------+

The payload is a JSON object carrying a "type" discriminator
("append_entries", "append_entries_response", "request_vote",
"request_vote_response") plus that message's fields under the field
names spec'd in the wire message variants (source, dest, term,
prev_index, prev_term, entries, commit_index, success, match_index,
last_log_index, last_log_term, vote_granted). Internal commands
(ClientAppendEntry, RaftDebug) and timer ticks never reach this
package — they are injected directly into a node's event loop by the
REPL or the runtime's own tickers.

Only AppendEntries is ever large enough to be worth compressing (a
heartbeat or vote message is a handful of fields). When wire
compression is on, the runtime harness sends every message through
SendCompressed / ReceiveCompressed; the Compressor's MinSize threshold
stores small frames verbatim behind its one-byte flag, so in practice
only large AppendEntries frames are compressed.
*/
package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ranet/internal/compression"
	raftErrors "ranet/internal/errors"
	"ranet/internal/raft"
)

// LengthFieldSize is the width, in bytes, of the ASCII decimal length
// prefix.
const LengthFieldSize = 10

// MaxFrameSize bounds a single frame's payload, guarding against a
// corrupt or malicious length prefix causing an unbounded allocation.
const MaxFrameSize = 16 * 1024 * 1024

const (
	typeAppendEntries         = "append_entries"
	typeAppendEntriesResponse = "append_entries_response"
	typeRequestVote           = "request_vote"
	typeRequestVoteResponse   = "request_vote_response"
)

type typeTag struct {
	Type string `json:"type"`
}

// EncodeMessage serializes one of the four wire RPCs into a tagged JSON
// payload. Passing an internal command or timer tick is a programmer
// error and returns raftErrors.UnsupportedWireType.
func EncodeMessage(msg raft.Message) ([]byte, error) {
	switch m := msg.(type) {
	case raft.AppendEntries:
		return json.Marshal(struct {
			Type string `json:"type"`
			raft.AppendEntries
		}{typeAppendEntries, m})
	case raft.AppendEntriesResponse:
		return json.Marshal(struct {
			Type string `json:"type"`
			raft.AppendEntriesResponse
		}{typeAppendEntriesResponse, m})
	case raft.RequestVote:
		return json.Marshal(struct {
			Type string `json:"type"`
			raft.RequestVote
		}{typeRequestVote, m})
	case raft.RequestVoteResponse:
		return json.Marshal(struct {
			Type string `json:"type"`
			raft.RequestVoteResponse
		}{typeRequestVoteResponse, m})
	default:
		return nil, raftErrors.UnsupportedWireType(fmt.Sprintf("%T", msg))
	}
}

// DecodeMessage reverses EncodeMessage. An unrecognized "type" tag is a
// protocol violation (spec.md §7): the frame is rejected without
// touching any node state.
func DecodeMessage(data []byte) (raft.Message, error) {
	var tag typeTag
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, raftErrors.DecodeFailed(err)
	}

	switch tag.Type {
	case typeAppendEntries:
		var m raft.AppendEntries
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, raftErrors.DecodeFailed(err)
		}
		return m, nil
	case typeAppendEntriesResponse:
		var m raft.AppendEntriesResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, raftErrors.DecodeFailed(err)
		}
		return m, nil
	case typeRequestVote:
		var m raft.RequestVote
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, raftErrors.DecodeFailed(err)
		}
		return m, nil
	case typeRequestVoteResponse:
		var m raft.RequestVoteResponse
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, raftErrors.DecodeFailed(err)
		}
		return m, nil
	default:
		return nil, raftErrors.UnsupportedWireType(tag.Type)
	}
}

// WriteFrame writes payload prefixed with its 10-byte ASCII decimal
// length.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return raftErrors.FrameTooLarge(len(payload), MaxFrameSize)
	}
	header := fmt.Sprintf("%*d", LengthFieldSize, len(payload))
	if _, err := io.WriteString(w, header); err != nil {
		return raftErrors.NewTransportError("failed to write frame header").WithCause(err)
	}
	if _, err := w.Write(payload); err != nil {
		return raftErrors.NewTransportError("failed to write frame payload").WithCause(err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, LengthFieldSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, raftErrors.NewTransportError("failed to read frame header").WithCause(err)
	}

	trimmed := strings.TrimSpace(string(header))
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return nil, raftErrors.MalformedLength(string(header))
	}
	if n > MaxFrameSize {
		return nil, raftErrors.FrameTooLarge(n, MaxFrameSize)
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, raftErrors.NewTransportError("failed to read frame payload").WithCause(err)
		}
	}
	return payload, nil
}

// SendMessage encodes msg and writes it as a single frame, uncompressed.
func SendMessage(w io.Writer, msg raft.Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// ReceiveMessage reads one frame and decodes it into a raft.Message.
func ReceiveMessage(r io.Reader) (raft.Message, error) {
	payload, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return DecodeMessage(payload)
}

// SendCompressed encodes msg, compresses the JSON payload with c, and
// writes the compressed bytes as a single frame. The runtime harness
// uses it for every message when wire compression is enabled.
func SendCompressed(w io.Writer, msg raft.Message, c *compression.Compressor) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	compressed, err := c.Compress(payload)
	if err != nil {
		return raftErrors.NewTransportError("failed to compress payload").WithCause(err)
	}
	return WriteFrame(w, compressed)
}

// ReceiveCompressed reads one frame, decompresses it with c using algo,
// and decodes the result into a raft.Message.
func ReceiveCompressed(r io.Reader, c *compression.Compressor, algo compression.Algorithm) (raft.Message, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	payload, err := c.Decompress(frame, algo)
	if err != nil {
		return nil, raftErrors.NewTransportError("failed to decompress payload").WithCause(err)
	}
	return DecodeMessage(payload)
}
