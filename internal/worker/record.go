package worker

import (
	"context"
	"time"
)

// Record is a Kafka message delivered to the worker, decoupled from the
// concrete consumer implementation.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	commit func(context.Context) error
}

func (r *Record) setCommitFn(fn func(context.Context) error) {
	r.commit = fn
}

// Clone returns a deep copy of the record so it can be handed to another
// goroutine. The commit binding is shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	clone := *r
	clone.Key = cloneBytes(r.Key)
	clone.Value = cloneBytes(r.Value)
	if len(r.Headers) > 0 {
		clone.Headers = cloneHeaders(r.Headers)
	}

	return &clone
}

// Committer commits Kafka offsets after processing.
type Committer interface {
	Commit(ctx context.Context, record *Record) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(ctx context.Context, record *Record) error

// Commit implements Committer.
func (f CommitFunc) Commit(ctx context.Context, record *Record) error {
	return f(ctx, record)
}

// BoundCommitter commits through the function bound to each record by
// NewRecordFromConsumer. Records without a binding are a no-op.
type BoundCommitter struct{}

// Commit implements Committer.
func (BoundCommitter) Commit(ctx context.Context, record *Record) error {
	if record == nil || record.commit == nil {
		return nil
	}
	return record.commit(ctx)
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}

func cloneHeaders(headers map[string][]byte) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	clone := make(map[string][]byte, len(headers))
	for k, v := range headers {
		clone[k] = cloneBytes(v)
	}
	return clone
}
