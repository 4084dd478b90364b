package transport

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type reconnectRun struct {
	cancel context.CancelFunc
}

// stopReconnectLocked cancels a pending reconnect. Callers hold h.mu.
func (h *Handle) stopReconnectLocked() {
	if h.reconnecting != nil {
		h.reconnecting.cancel()
		h.reconnecting = nil
	}
}

func (h *Handle) startReconnect() {
	h.mu.Lock()
	if h.closed || h.reconnecting != nil {
		h.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	run := &reconnectRun{cancel: cancel}
	h.reconnecting = run
	gen := h.gen
	token := h.token
	h.mu.Unlock()

	go h.reconnect(ctx, run, gen, token)
}

// newBackOff returns the reconnect schedule: base delay doubling up to the
// cap, at most ReconnectAttempts tries.
func (h *Handle) newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = h.config.ReconnectBaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = h.config.ReconnectMaxDelay
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(h.config.ReconnectAttempts)), ctx)
}

func (h *Handle) reconnect(ctx context.Context, run *reconnectRun, gen uint64, token string) {
	defer func() {
		h.mu.Lock()
		if h.reconnecting == run {
			h.reconnecting = nil
		}
		h.mu.Unlock()
		run.cancel()
	}()

	b := h.newBackOff(ctx)
	h.emit(EventReconnecting, nil)

	var lastErr error
	for attempt := 1; ; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			if ctx.Err() == nil {
				h.logger.Error().Err(lastErr).Int("attempts", attempt-1).Msg("Giving up reconnecting")
				h.emit(EventFailed, lastErr)
			}
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		h.metrics.ReconnectAttemptsTotal.Inc()
		err := h.dial(ctx, gen, token)
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return
		}
		if err != nil {
			lastErr = err
			h.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Reconnect attempt failed")
			continue
		}

		h.logger.Info().Int("attempt", attempt).Msg("Reconnected")
		h.emit(EventOpen, nil)
		return
	}
}
