package sqlite

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Retention bounds how long entries are kept. A zero MaxAge or MaxIdle
// disables that rule.
type Retention struct {
	MaxAge   time.Duration
	MaxIdle  time.Duration
	Interval time.Duration
}

const defaultSweepInterval = time.Hour

// Janitor periodically evicts entries that are too old or unused for too long.
type Janitor struct {
	store  *Store
	ret    Retention
	logger *zap.Logger
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewJanitor starts a background sweep over store. Close stops it.
func NewJanitor(store *Store, ret Retention, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ret.Interval <= 0 {
		ret.Interval = defaultSweepInterval
	}
	j := &Janitor{
		store:  store,
		ret:    ret,
		logger: logger,
		done:   make(chan struct{}),
	}
	j.wg.Add(1)
	go j.loop()
	return j
}

// Sweep runs one eviction pass and returns the number of deleted entries.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	now := j.store.now()
	var total int64
	if j.ret.MaxAge > 0 {
		n, err := j.store.Clear(ctx, ClearFilter{CreatedBefore: now.Add(-j.ret.MaxAge)})
		if err != nil {
			return total, err
		}
		total += n
	}
	if j.ret.MaxIdle > 0 {
		n, err := j.store.Clear(ctx, ClearFilter{AccessedBefore: now.Add(-j.ret.MaxIdle)})
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Close stops the sweep loop and waits for a running pass to finish. It
// does not close the store. Later calls are no-ops.
func (j *Janitor) Close() error {
	j.once.Do(func() { close(j.done) })
	j.wg.Wait()
	return nil
}

func (j *Janitor) loop() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.ret.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			n, err := j.Sweep(context.Background())
			if err != nil {
				j.logger.Warn("cache sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				j.logger.Info("cache sweep", zap.Int64("deleted", n))
			}
		}
	}
}
