package client

import (
	"context"
	"sync"
)

// BatchResult reports the outcome of one publish in a batch. Index is the
// position of the payload in the input slice.
type BatchResult struct {
	Index   int
	EventID string
	Err     error
}

// PublishBatch publishes every payload to topic concurrently and waits for
// all of them to finish. Results are returned in input order; a failed
// publish does not stop the others.
func (c *Client) PublishBatch(ctx context.Context, topic string, payloads []any) []BatchResult {
	results := make([]BatchResult, len(payloads))

	var wg sync.WaitGroup
	for i, payload := range payloads {
		wg.Add(1)
		go func(i int, payload any) {
			defer wg.Done()
			id, err := c.Publish(ctx, topic, payload)
			results[i] = BatchResult{Index: i, EventID: id, Err: err}
		}(i, payload)
	}
	wg.Wait()

	return results
}

// FirstError returns the first failure in a batch, or nil if every publish
// succeeded.
func FirstError(results []BatchResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
