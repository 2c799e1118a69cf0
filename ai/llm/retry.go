package llm

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/RcityLucas/Prizm-Agent-sub001/internal/errkind"
)

// retryBaseDelay is the first backoff step; each further attempt doubles it.
var retryBaseDelay = 500 * time.Millisecond

// completeWithRetry runs a chat-completion request with exponential backoff.
// It returns the response, the number of attempts made, and the final error.
// Context cancellation is never retried.
func completeWithRetry(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest, maxAttempts int) (*openai.ChatCompletionResponse, int, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				lastErr = errors.New("empty response from llm")
			} else {
				return &resp, attempt, nil
			}
		} else {
			lastErr = err
		}

		if ctx.Err() != nil {
			return nil, attempt, ctx.Err()
		}
		if attempt == maxAttempts {
			break
		}
		delay := retryBaseDelay << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		}
	}
	return nil, maxAttempts, wrapUpstream(lastErr)
}

func wrapUpstream(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(errkind.ErrUpstreamUnavailable, err)
}

func isStreamEnd(err error) bool {
	return errors.Is(err, io.EOF)
}
