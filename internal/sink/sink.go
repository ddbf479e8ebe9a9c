// Package sink streams allocation results to their destination in
// bounded-size chunks. A sink must never be written by more than one
// writer at a time.
package sink

import "context"

// Sink accepts an ordered row stream. Open truncates or creates the
// destination and fixes the column set; every Write appends one chunk.
type Sink interface {
	Open(ctx context.Context, header []string) error
	Write(ctx context.Context, rows [][]any) error
	Close() error
}
