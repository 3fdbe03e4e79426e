package generation

import "context"

// produceFunc runs one upstream call, passing each fragment to emit.
type produceFunc func(ctx context.Context, emit func(string) error) (TokenUsage, error)

// chanStream adapts a push-style producer to the pull-style Stream.
type chanStream struct {
	fragments chan string
	cancel    context.CancelFunc

	cur   string
	err   error
	usage TokenUsage
}

// newStream starts produce in a goroutine. Fragments are handed over
// unbuffered so the producer never runs ahead of the consumer.
func newStream(ctx context.Context, produce produceFunc) *chanStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{fragments: make(chan string), cancel: cancel}
	go func() {
		defer close(s.fragments)
		s.usage, s.err = produce(ctx, func(frag string) error {
			if frag == "" {
				return nil
			}
			select {
			case s.fragments <- frag:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

func (s *chanStream) Next() bool {
	frag, ok := <-s.fragments
	if !ok {
		s.cur = ""
		return false
	}
	s.cur = frag
	return true
}

func (s *chanStream) Fragment() string { return s.cur }

func (s *chanStream) Err() error { return s.err }

func (s *chanStream) Usage() TokenUsage { return s.usage }

// Close stops the producer and waits for it to exit.
func (s *chanStream) Close() error {
	s.cancel()
	for range s.fragments {
	}
	return nil
}
