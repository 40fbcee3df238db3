package storage

import (
	"context"
	"time"
)

// OperationRecorder receives the duration and outcome of every store round
// trip. Satisfied by *instrumentation.Metrics.
type OperationRecorder interface {
	RecordStoreOperation(ctx context.Context, op string, d time.Duration, err error)
}

// instrumentedKV decorates a KV with per-operation latency recording.
type instrumentedKV struct {
	kv  KV
	rec OperationRecorder
}

var _ KV = (*instrumentedKV)(nil)

// InstrumentKV wraps kv so every operation is reported to rec.
func InstrumentKV(kv KV, rec OperationRecorder) KV {
	if rec == nil {
		return kv
	}
	return &instrumentedKV{kv: kv, rec: rec}
}

func (i *instrumentedKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := i.kv.Get(ctx, key)
	i.rec.RecordStoreOperation(ctx, "get", time.Since(start), err)
	return value, ok, err
}

func (i *instrumentedKV) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	created, err := i.kv.SetIfAbsent(ctx, key, value, ttl)
	i.rec.RecordStoreOperation(ctx, "set_if_absent", time.Since(start), err)
	return created, err
}

func (i *instrumentedKV) CompareAndSwap(ctx context.Context, key string, old, new []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	swapped, err := i.kv.CompareAndSwap(ctx, key, old, new, ttl)
	i.rec.RecordStoreOperation(ctx, "compare_and_swap", time.Since(start), err)
	return swapped, err
}

func (i *instrumentedKV) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := i.kv.Delete(ctx, key)
	i.rec.RecordStoreOperation(ctx, "delete", time.Since(start), err)
	return err
}
