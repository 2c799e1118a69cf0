package llm

import (
	"context"
	"sync"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
)

// Fake is a scripted Service for tests. Each Chat call pops the next
// scripted reply; when the script runs out it repeats the last one. Set
// Fail to make every call report the upstream as unavailable.
type Fake struct {
	mu      sync.Mutex
	Replies []string
	Fail    bool
	ModelID string

	// Calls records the message lists of every Chat invocation.
	Calls [][]Message

	cursor int
}

// NewFake creates a fake that always answers with the given replies in order.
func NewFake(replies ...string) *Fake {
	if len(replies) == 0 {
		replies = []string{"ok"}
	}
	return &Fake{Replies: replies, ModelID: "fake-model"}
}

func (f *Fake) Model() string {
	if f.ModelID == "" {
		return "fake-model"
	}
	return f.ModelID
}

func (f *Fake) Chat(ctx context.Context, messages []Message) (string, *CallStats, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, append([]Message(nil), messages...))
	if f.Fail {
		return "", nil, errkind.ErrUpstreamUnavailable
	}
	reply := f.Replies[min(f.cursor, len(f.Replies)-1)]
	f.cursor++
	return reply, &CallStats{TotalTokens: len(reply), Attempts: 1}, nil
}

func (f *Fake) ChatStream(ctx context.Context, messages []Message) (<-chan string, <-chan *CallStats, <-chan error) {
	contentChan := make(chan string, 1)
	statsChan := make(chan *CallStats, 1)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)
		reply, stats, err := f.Chat(ctx, messages)
		if err != nil {
			errChan <- err
			return
		}
		contentChan <- reply
		statsChan <- stats
	}()
	return contentChan, statsChan, errChan
}

// CallCount returns how many Chat calls the fake has served.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

// LastCall returns the message list of the most recent Chat call.
func (f *Fake) LastCall() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Calls) == 0 {
		return nil
	}
	return f.Calls[len(f.Calls)-1]
}
