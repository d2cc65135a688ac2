// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"
)

// =============================================================================
// FRAGMENT STREAM
// =============================================================================

// FragmentStream is a lazy, finite, non-restartable sequence of fragments
// read line by line from an NDJSON chat response. Next returns io.EOF once
// the done fragment has been delivered; nothing is produced after that.
//
// A FragmentStream is not safe for concurrent Next calls. Close may be
// called from any goroutine and unblocks a pending Next.
type FragmentStream struct {
	ctx    context.Context
	body   io.ReadCloser
	reader *bufio.Reader

	// queued is used by streams built from fixed fragments.
	queued []Fragment

	done      bool
	closeOnce sync.Once
	closeErr  error
}

// NewFragmentStream reads fragments from an NDJSON body. ctx is only used to
// classify read failures after cancellation.
func NewFragmentStream(ctx context.Context, body io.ReadCloser) *FragmentStream {
	if ctx == nil {
		ctx = context.Background()
	}
	return &FragmentStream{
		ctx:    ctx,
		body:   body,
		reader: bufio.NewReaderSize(body, 64*1024),
	}
}

// NewStaticStream returns a stream that yields the given fragments in order.
// A final done fragment is appended if the last one is not already done.
func NewStaticStream(frags ...Fragment) *FragmentStream {
	queued := append([]Fragment(nil), frags...)
	if len(queued) == 0 || !queued[len(queued)-1].Done {
		queued = append(queued, Fragment{Done: true})
	}
	return &FragmentStream{ctx: context.Background(), queued: queued}
}

// Next returns the next fragment, or io.EOF after the done fragment.
func (s *FragmentStream) Next() (Fragment, error) {
	if s.done {
		return Fragment{}, io.EOF
	}

	if s.body == nil {
		if len(s.queued) == 0 {
			s.done = true
			return Fragment{}, io.EOF
		}
		f := s.queued[0]
		s.queued = s.queued[1:]
		if f.Done {
			s.done = true
		}
		return f, nil
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		if len(line) > 0 {
			frag, ok, perr := parseLine(line)
			if perr != nil {
				s.done = true
				return Fragment{}, perr
			}
			if ok {
				if frag.Done {
					s.done = true
				}
				return frag, nil
			}
		}
		if err != nil {
			s.done = true
			return Fragment{}, s.classifyReadError(err)
		}
	}
}

// Close releases the response body. It is safe to call more than once.
func (s *FragmentStream) Close() error {
	s.closeOnce.Do(func() {
		if s.body != nil {
			s.closeErr = s.body.Close()
		}
	})
	return s.closeErr
}

// Collect drains the stream and returns the concatenated content and the
// tool calls of the turn.
func (s *FragmentStream) Collect() (Fragment, error) {
	var out Fragment
	for {
		f, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out.Content += f.Content
		if len(f.ToolCalls) > 0 {
			out.ToolCalls = append(out.ToolCalls, f.ToolCalls...)
		}
		if f.Done {
			out.Done = true
			out.DoneReason = f.DoneReason
			out.PromptTokens = f.PromptTokens
			out.CompletionTokens = f.CompletionTokens
			out.EvalDuration = f.EvalDuration
		}
	}
}

func (s *FragmentStream) classifyReadError(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		return &ClientError{Type: ErrTypeConnection, Message: "stream ended before completion", Cause: io.ErrUnexpectedEOF}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: err}
}

// parseLine decodes one NDJSON line. Blank and malformed lines are skipped
// (ok=false); an error object ends the stream.
func parseLine(line []byte) (Fragment, bool, error) {
	var resp ChatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return Fragment{}, false, nil
	}
	if resp.Error != "" {
		return Fragment{}, false, classifyAPIError(resp.Error)
	}

	frag := Fragment{
		Content:   resp.Message.Content,
		ToolCalls: FromWireToolCalls(resp.Message.ToolCalls),
		Done:      resp.Done,
	}
	if resp.Done {
		frag.DoneReason = resp.DoneReason
		frag.PromptTokens = resp.PromptEvalCount
		frag.CompletionTokens = resp.EvalCount
		frag.EvalDuration = time.Duration(resp.EvalDuration)
	}
	return frag, true, nil
}
