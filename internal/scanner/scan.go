package scanner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/channeldb"
	"github.com/tunerproxy/tunerproxyd/internal/driverabi"
	"github.com/tunerproxy/tunerproxyd/internal/spacegen"
	"github.com/tunerproxy/tunerproxyd/internal/tsanalyzer"
)

const (
	packetLen      = 188
	syncByte       = 0x47
	initialBufSize = 64 * 1024
	maxBufSize     = 4 * 1024 * 1024
	backoffStart   = 2 * time.Millisecond
	backoffCap     = 50 * time.Millisecond
)

var errScanTimeout = errors.New("scanner: scan task deadline exceeded")

// scanDriver drives driver through its full tuning-space and channel
// enumeration, probing each reachable channel and collecting one
// ChannelInfo per discovered service, per spec steps 2-5.
func (s *Scheduler) scanDriver(ctx context.Context, driver channeldb.Driver) ([]channeldb.ChannelInfo, error) {
	adapter, err := s.deps.OpenDriver(driver.Path)
	if err != nil {
		return nil, fmt.Errorf("open driver: %w", err)
	}
	defer adapter.Close()

	if adapter.Revision() == driverabi.RevisionV1 {
		// Legacy single-byte addressing has no tuning-space concept to
		// enumerate; scanning is only meaningful for v2/v3 drivers.
		return nil, nil
	}

	var observed []channeldb.ChannelInfo
	noneStreak := 0
	for space := uint32(0); space < maxSpaces; space++ {
		if ctx.Err() != nil {
			return observed, errScanTimeout
		}
		_, ok, err := adapter.EnumTuningSpace(ctx, space)
		if err != nil {
			return observed, fmt.Errorf("enum_tuning_space(%d): %w", space, err)
		}
		if !ok {
			noneStreak++
			if noneStreak >= 2 {
				break
			}
			continue
		}
		noneStreak = 0

		found, err := s.scanSpace(ctx, adapter, space)
		if err != nil {
			return observed, err
		}
		observed = append(observed, found...)
	}
	return observed, nil
}

// scanSpace enumerates every channel within space and probes each one that
// resolves to a name.
func (s *Scheduler) scanSpace(ctx context.Context, adapter *driverabi.Adapter, space uint32) ([]channeldb.ChannelInfo, error) {
	var found []channeldb.ChannelInfo
	noneStreak := 0
	for channel := uint32(0); channel < maxChannelsPerSpace; channel++ {
		if ctx.Err() != nil {
			return found, errScanTimeout
		}
		_, ok, err := adapter.EnumChannelName(ctx, space, channel)
		if err != nil {
			return found, fmt.Errorf("enum_channel_name(%d,%d): %w", space, channel, err)
		}
		if !ok {
			noneStreak++
			if noneStreak > maxConsecutiveNoneGaps {
				break
			}
			continue
		}
		noneStreak = 0

		infos, err := s.probeChannel(ctx, adapter, space, channel)
		if err != nil {
			return found, err
		}
		found = append(found, infos...)
	}
	return found, nil
}

// probeChannel tunes to (space, channel), checks signal strength, and if
// acceptable feeds a scanning TS analyzer until PSI identity is complete or
// the per-channel read timeout elapses, per spec step 4.
func (s *Scheduler) probeChannel(ctx context.Context, adapter *driverabi.Adapter, space, channel uint32) ([]channeldb.ChannelInfo, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, errScanTimeout
	}
	if _, err := adapter.SetChannelSpace(ctx, space, channel); err != nil {
		log.Printf("scanner: set_channel(%d,%d): %v", space, channel, err)
		return nil, nil // per-channel failure: log-and-skip per spec, not a scan-aborting error
	}
	_ = adapter.PurgeStream(ctx)

	select {
	case <-time.After(s.cfg.SignalLockWait):
	case <-ctx.Done():
		return nil, errScanTimeout
	}

	level, err := adapter.SignalLevel(ctx)
	if err != nil || level < minSignalLevel {
		return nil, nil
	}

	var result tsanalyzer.ScanResult
	for attempt := 0; attempt < maxNIDRetries; attempt++ {
		result, err = s.readPSI(ctx, adapter)
		if err != nil {
			return nil, nil
		}
		if result.HasNetworkID && result.NetworkID != 0 {
			break
		}
	}
	if !result.HasNetworkID || result.NetworkID == 0 {
		return nil, nil
	}

	return channelInfosFromResult(result, space, channel), nil
}

// readPSI feeds a fresh scanning analyzer from the driver's live stream
// until its completion predicate is satisfied or the per-channel read
// timeout elapses, using the same hint-driven backoff as the shared tuner's
// reader loop.
func (s *Scheduler) readPSI(ctx context.Context, adapter *driverabi.Adapter) (tsanalyzer.ScanResult, error) {
	analyzer := tsanalyzer.NewScanner()
	buf := make([]byte, initialBufSize)
	var carry []byte
	backoff := backoffStart

	deadline := time.Now().Add(s.cfg.TSReadTimeout)
	for {
		if analyzer.Complete(true, true, true) || analyzer.Aborted() {
			return analyzer.Result(), nil
		}
		if time.Now().After(deadline) {
			return analyzer.Result(), nil
		}
		if ctx.Err() != nil {
			return analyzer.Result(), ctx.Err()
		}

		_, _ = adapter.WaitStream(ctx, 200)
		n, remaining, err := adapter.GetStream(ctx, buf)
		if err != nil {
			return analyzer.Result(), err
		}
		if n == 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return analyzer.Result(), ctx.Err()
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
		consumed := feedWholePackets(analyzer, carry)
		carry = carry[consumed:]
	}
}

func feedWholePackets(a *tsanalyzer.Analyzer, data []byte) int {
	off := 0
	for off < len(data) && data[off] != syncByte {
		off++
	}
	whole := (len(data) - off) / packetLen
	if whole == 0 {
		return off
	}
	end := off + whole*packetLen
	a.Feed(data[off:end])
	return end
}

// channelInfosFromResult builds one ChannelInfo per SDT service reported for
// this (space, channel)'s PAT/SDT pair, per spec step 5.
func channelInfosFromResult(r tsanalyzer.ScanResult, space, channel uint32) []channeldb.ChannelInfo {
	band, regionID, region := spacegen.ClassifyNID(r.NetworkID)
	regionName := ""
	if band == spacegen.BandTerrestrial {
		regionName = spacegen.PrefectureName(regionID)
	} else {
		regionName = region.String()
	}

	var tsid uint16
	if r.HasTSID {
		tsid = r.TransportStreamID
	}

	infos := make([]channeldb.ChannelInfo, 0, len(r.Services))
	for sid, svc := range r.Services {
		infos = append(infos, channeldb.ChannelInfo{
			NID:        r.NetworkID,
			SID:        sid,
			TSID:       tsid,
			BonSpace:   space,
			BonChannel: channel,
			Name:       svc.Name,
			BandType:   int(band),
			Region:     regionName,
		})
	}
	return infos
}
