package sync

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Run drives automatic draining until ctx is done: immediately when going
// online, and every interval while online with a non-empty queue. The timer
// is stopped when the queue empties or connectivity drops.
func (e *Engine) Run(ctx context.Context) error {
	logger := logrus.WithField("component", "sync")
	updates, unsubscribe := e.conn.Subscribe()
	defer unsubscribe()

	var ticker *time.Ticker
	var tick <-chan time.Time
	arm := func() {
		if ticker == nil {
			ticker = time.NewTicker(e.interval)
			tick = ticker.C
			logger.WithField("interval", e.interval).Debug("Retry timer armed")
		}
	}
	disarm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
			logger.Debug("Retry timer disarmed")
		}
	}
	defer disarm()

	schedule := func() {
		if !e.conn.Online() {
			disarm()
			return
		}
		n, err := e.Pending(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to read sync queue length")
			return
		}
		if n > 0 {
			arm()
		} else {
			disarm()
		}
	}
	drain := func() {
		if _, err := e.Drain(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("Drain failed")
		}
		schedule()
	}

	logger.Info("Starting sync engine")
	if e.conn.Online() {
		drain()
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sync engine stopped")
			return ctx.Err()
		case online := <-updates:
			if online {
				logger.Info("Connectivity restored, draining sync queue")
				drain()
			} else {
				logger.Info("Connectivity lost, pausing sync")
				disarm()
			}
		case <-tick:
			drain()
		case <-e.wake:
			schedule()
		}
	}
}
