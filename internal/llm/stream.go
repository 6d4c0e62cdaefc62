package llm

import "context"

// Chunk is one piece of streamed content. ApproxTokens is the running count of
// chunks received, used as an approximate output token count.
type Chunk struct {
	Content      string `json:"chunk"`
	ApproxTokens int    `json:"tokens"`
}

// Stream reads a streaming completion. Callers must call Close when done,
// including after an early exit, so the provider stops producing.
type Stream struct {
	ch       <-chan StreamChunk
	cancel   context.CancelFunc
	pending  *StreamChunk
	model    string
	pricing  Pricing
	attempts int

	cur          Chunk
	chunks       int
	usage        *Usage
	finishReason string
	err          error
	done         bool
}

// Next advances to the next content chunk. It returns false when the stream
// ends or fails; check Err afterwards.
func (s *Stream) Next() bool {
	for !s.done {
		var c StreamChunk
		if s.pending != nil {
			c, s.pending = *s.pending, nil
		} else {
			var ok bool
			c, ok = <-s.ch
			if !ok {
				s.finish()
				return false
			}
		}

		switch {
		case c.Err != nil:
			s.err = invocationError(c.Err, s.attempts)
			s.done = true
			return false
		case c.Done:
			s.usage = c.Usage
			s.finishReason = c.FinishReason
			s.finish()
			return false
		case c.Content != "":
			s.chunks++
			s.cur = Chunk{Content: c.Content, ApproxTokens: s.chunks}
			return true
		}
	}
	return false
}

func (s *Stream) finish() {
	s.done = true
	recordUsage(s.Usage(), s.Cost())
}

func (s *Stream) Chunk() Chunk { return s.cur }

func (s *Stream) Err() error { return s.err }

func (s *Stream) Model() string { return s.model }

func (s *Stream) FinishReason() string { return s.finishReason }

// Usage returns the provider's final usage report when it sent one, otherwise
// an approximation counting one output token per chunk.
func (s *Stream) Usage() Usage {
	if s.usage != nil {
		return *s.usage
	}
	return Usage{OutputTokens: s.chunks, TotalTokens: s.chunks}
}

func (s *Stream) Cost() float64 { return s.pricing.Cost(s.Usage()) }

// Close stops the producer. It is safe to call more than once.
func (s *Stream) Close() {
	s.done = true
	s.cancel()
}
