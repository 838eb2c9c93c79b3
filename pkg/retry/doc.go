// Package retry provides simple exponential backoff retry logic for
// transient failures, used for connection establishment. It is
// deliberately minimal: no circuit breakers, no metrics, no error
// classification beyond an explicit non-retryable marker. Just
// bounded exponential backoff with jitter.
//
// Basic retry with defaults:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Connect()
//	})
//
// Dial-time retries during startup:
//
//	err := retry.Do(ctx, retry.Quick(), func() error {
//	    return transport.connect()
//	})
//
// All operations respect context cancellation, both during execution
// and during the backoff sleep. Functions are safe for concurrent use.
package retry
