// Package queue delivers video job ids from the API to the worker pool.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Handler processes one job id. A nil return acknowledges the delivery; an
// error puts the id back for another attempt.
type Handler func(ctx context.Context, jobID int64) error

type Queue interface {
	Enqueue(ctx context.Context, jobID int64) error
	// Consume blocks, feeding deliveries to h one at a time, until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Close() error
}

func encodeJobID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decodeJobID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", raw)
	}
	return id, nil
}
