package driverabi

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrSetChannelTimeout means the driver kept returning channel_unavailable
// until the retry budget expired.
var ErrSetChannelTimeout = errors.New("driverabi: set_channel retry budget exceeded")

// RetrySetChannelSimple retries a legacy-ABI tune while the driver reports
// SetChannelUnavailable, pacing attempts with limiter rather than a bare
// sleep loop, until interval*N exceeds timeout.
func RetrySetChannelSimple(ctx context.Context, a *Adapter, ch byte, interval, timeout time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	deadline := time.Now().Add(timeout)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := a.SetChannelSimple(ctx, ch)
		if err != nil {
			return err
		}
		switch res {
		case SetChannelOK:
			return nil
		case SetChannelUnavailable, SetChannelTransientNotReady:
			if time.Now().After(deadline) {
				return ErrSetChannelTimeout
			}
		}
	}
}

// RetrySetChannelSpace is the v2/v3 ABI counterpart of RetrySetChannelSimple.
func RetrySetChannelSpace(ctx context.Context, a *Adapter, space, channel uint32, interval, timeout time.Duration) error {
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	deadline := time.Now().Add(timeout)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		res, err := a.SetChannelSpace(ctx, space, channel)
		if err != nil {
			return err
		}
		switch res {
		case SetChannelOK:
			return nil
		case SetChannelUnavailable, SetChannelTransientNotReady:
			if time.Now().After(deadline) {
				return ErrSetChannelTimeout
			}
		}
	}
}
