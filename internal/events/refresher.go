package events

import (
	"context"
	"sync"

	"github.com/bytedance/gopkg/util/gopool"
	"go.uber.org/zap"
)

// reloadWorkers caps concurrent reload cycles; superseded ones end quickly.
const reloadWorkers = 4

// ReloadFunc reloads the home data of userID. It must honour ctx cancellation.
type ReloadFunc func(ctx context.Context, userID string) error

// Refresher turns refresh requests and job settlements into reload cycles.
// A new cycle cancels the one still running, so only the latest result lands.
type Refresher struct {
	bus           *Bus
	reload        ReloadFunc
	defaultUserID string
	logger        *zap.Logger

	pool      gopool.Pool
	ready     chan struct{}
	readyOnce sync.Once

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRefresher(bus *Bus, reload ReloadFunc, defaultUserID string, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool := gopool.NewPool("fxdesk-reload", reloadWorkers, gopool.NewConfig())
	pool.SetPanicHandler(func(_ context.Context, p interface{}) {
		logger.Error("reload panicked", zap.Any("panic", p))
	})
	return &Refresher{
		bus:           bus,
		reload:        reload,
		defaultUserID: defaultUserID,
		logger:        logger,
		pool:          pool,
		ready:         make(chan struct{}),
	}
}

// Ready is closed once Run listens on the bus; events published earlier are lost.
func (r *Refresher) Ready() <-chan struct{} {
	return r.ready
}

// Run consumes events until ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	refresh := r.bus.Refresh.Subscribe()
	settled := r.bus.Settled.Subscribe()
	defer r.bus.Refresh.Unsubscribe(refresh)
	defer r.bus.Settled.Unsubscribe(settled)
	r.readyOnce.Do(func() { close(r.ready) })

	defer r.wg.Wait()
	defer r.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-refresh:
			if !ok {
				return nil
			}
			r.start(ctx, ev.UserID, string(ev.Reason))
		case ev, ok := <-settled:
			if !ok {
				return nil
			}
			userID := ev.UserID
			if userID == "" {
				userID = ev.Job.ClientID
			}
			r.start(ctx, userID, string(ReasonJobSettled))
		}
	}
}

func (r *Refresher) start(parent context.Context, userID, reason string) {
	if userID == "" {
		userID = r.defaultUserID
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	r.pool.CtxGo(ctx, func() {
		defer r.wg.Done()
		if err := r.reload(ctx, userID); err != nil && ctx.Err() == nil {
			r.logger.Warn("reload failed", zap.String("user_id", userID), zap.String("reason", reason), zap.Error(err))
		}
	})
}

func (r *Refresher) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
