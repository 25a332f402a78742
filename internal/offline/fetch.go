package offline

import (
	"context"
	"time"
)

type fetchResult struct {
	resp *Response
	err  error
}

// fetchWithTimeout races a network fetch against a timer of d. When the timer
// wins a *TimeoutError is returned and the fetch keeps running detached from
// ctx; its result lands in the buffered channel and is dropped. Cancelling ctx
// abandons the wait the same way.
func fetchWithTimeout(ctx context.Context, fetcher Fetcher, req *Request, d time.Duration) (*Response, error) {
	done := make(chan fetchResult, 1)
	go func() {
		resp, err := fetcher.Fetch(context.WithoutCancel(ctx), req)
		done <- fetchResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-timer.C:
		return nil, &TimeoutError{URL: req.Target(), After: d}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
