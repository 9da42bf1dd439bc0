package sharedtuner

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
)

const (
	packetLen       = 188
	syncByte        = 0x47
	initialBufSize  = 64 * 1024
	maxBufSize      = 16 * 1024 * 1024
	backoffStart    = 2 * time.Millisecond
	backoffCap      = 50 * time.Millisecond
	signalUpdateInt = 2 * time.Second
)

// runReader is the shared tuner's dedicated background task: set-channel
// retry, signal acquisition, then the read loop until Stop is called.
func (t *SharedTuner) runReader(adapter *driverabi.Adapter, cfg ReaderConfig, readyCh chan<- error) {
	defer close(t.doneCh)

	ctx := context.Background()

	if err := t.tuneWithRetry(ctx, adapter, cfg); err != nil {
		if err == driverabi.ErrSetChannelTimeout {
			err = ErrChannelUnavailable
		}
		readyCh <- err
		t.isRunning.Store(false)
		return
	}

	if err := t.waitForSignal(ctx, adapter, cfg); err != nil {
		log.Printf("sharedtuner: %s: signal never locked: %v (continuing anyway)", t.Key, err)
	}

	if err := adapter.PurgeStream(ctx); err != nil {
		log.Printf("sharedtuner: %s: purge before start: %v", t.Key, err)
	}
	t.packetsTotal.Store(0)
	t.packetsDropped.Store(0)
	t.packetsScramb.Store(0)
	t.packetsError.Store(0)

	readyCh <- nil

	t.readLoop(ctx, adapter, cfg)
}

func (t *SharedTuner) tuneWithRetry(ctx context.Context, adapter *driverabi.Adapter, cfg ReaderConfig) error {
	if t.Key.UseSimple {
		return driverabi.RetrySetChannelSimple(ctx, adapter, t.Key.Simple, cfg.SetChannelRetryInterval, cfg.SetChannelRetryTimeout)
	}
	return driverabi.RetrySetChannelSpace(ctx, adapter, t.Key.Space, t.Key.Channel, cfg.SetChannelRetryInterval, cfg.SetChannelRetryTimeout)
}

func (t *SharedTuner) waitForSignal(ctx context.Context, adapter *driverabi.Adapter, cfg ReaderConfig) error {
	deadline := time.Now().Add(cfg.SignalWaitTimeout)
	ticker := time.NewTicker(cfg.SignalPollInterval)
	defer ticker.Stop()
	for {
		level, err := adapter.SignalLevel(ctx)
		if err != nil {
			return err
		}
		t.signalBits.Store(float32bits(level))
		if level > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ticker.C:
		case <-t.stopCh:
			return context.Canceled
		}
	}
}

// readLoop pulls raw TS from the driver, resyncs to 0x47, pushes whole
// packets through the descrambler gate, and broadcasts the result, until
// stopCh is closed.
func (t *SharedTuner) readLoop(ctx context.Context, adapter *driverabi.Adapter, cfg ReaderConfig) {
	buf := make([]byte, initialBufSize)
	var carry []byte
	lastSignalUpdate := time.Now()
	backoff := backoffStart

	for {
		select {
		case <-t.stopCh:
			t.isRunning.Store(false)
			return
		default:
		}

		ready, _ := adapter.WaitStream(ctx, 1000)
		_ = ready // hint only; proceed to GetStream regardless

		n, remaining, err := adapter.GetStream(ctx, buf)
		if err != nil {
			log.Printf("sharedtuner: %s: get_stream: %v", t.Key, err)
			t.isRunning.Store(false)
			return
		}

		if n == 0 {
			if sleepOrStop(t.stopCh, backoff) {
				t.isRunning.Store(false)
				return
			}
			backoff *= 2
			if backoff > backoffCap {
				backoff = backoffCap
			}
			continue
		}
		backoff = backoffStart

		if remaining > 0 && len(buf) < maxBufSize {
			grown := len(buf) * 2
			if grown > maxBufSize {
				grown = maxBufSize
			}
			if grown > len(buf) {
				buf = make([]byte, grown)
			}
		}

		carry = append(carry, buf[:n]...)
		consumed := t.processWholePackets(carry)
		carry = carry[consumed:]

		if time.Since(lastSignalUpdate) >= signalUpdateInt {
			if level, err := adapter.SignalLevel(ctx); err == nil {
				t.signalBits.Store(float32bits(level))
			}
			lastSignalUpdate = time.Now()
		}
	}
}

// processWholePackets resyncs data to the next sync byte, feeds every whole
// 188-byte packet through the quality analyzer and descrambler gate, and
// broadcasts whatever the gate produced. It returns how many leading bytes
// of data were consumed (always a multiple of packetLen after resync, plus
// any unparseable prefix discarded).
func (t *SharedTuner) processWholePackets(data []byte) int {
	off := 0
	for off < len(data) && data[off] != syncByte {
		off++
	}
	whole := (len(data) - off) / packetLen
	if whole == 0 {
		return off
	}
	end := off + whole*packetLen
	chunk := data[off:end]

	delta := t.analyzer.Feed(chunk)
	t.packetsTotal.Add(int64(delta.PacketsTotal))
	t.packetsDropped.Add(int64(delta.PacketsDropped))
	t.packetsScramb.Add(int64(delta.PacketsScrambled))
	t.packetsError.Add(int64(delta.PacketsError))

	out, _ := t.gate.Push(chunk, time.Now())
	if len(out) > 0 {
		t.broadcast.Publish(out)
	}
	return end
}

// sleepOrStop sleeps for d or returns early (true) if stopCh closes first.
func sleepOrStop(stopCh <-chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-stopCh:
		return true
	}
}

func float32bits(f float32) uint32 { return math.Float32bits(f) }
