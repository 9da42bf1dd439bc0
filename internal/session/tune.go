package session

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/tunerproxy/tunerproxyd/internal/channeldb"
	"github.com/tunerproxy/tunerproxyd/internal/sharedtuner"
	"github.com/tunerproxy/tunerproxyd/internal/spacegen"
	"github.com/tunerproxy/tunerproxyd/internal/wire"
)

const (
	lnbTimeout = 5 * time.Second
	tuneTimeout = 10 * time.Second
	preemptStopTimeout = 3 * time.Second
)

// resolveTuner implements the OpenTuner target resolution order: exact
// driver path, then group name, then driver display name, then fallback to
// any available driver.
func (s *Session) resolveTuner(ot wire.OpenTuner) (string, error) {
	if ot.IsGroup {
		drivers, err := s.deps.DB.GetGroupDrivers(ot.Target)
		if err != nil || len(drivers) == 0 {
			return "", fmt.Errorf("unknown group %q", ot.Target)
		}
		s.groupName = ot.Target
		s.groupDriverPaths = pathsOf(drivers)
		return ot.Target, nil
	}

	if d, err := s.deps.DB.GetDriverByPath(ot.Target); err == nil {
		return d.Path, nil
	}
	if drivers, err := s.deps.DB.GetGroupDrivers(ot.Target); err == nil && len(drivers) > 0 {
		s.groupName = ot.Target
		s.groupDriverPaths = pathsOf(drivers)
		return ot.Target, nil
	}

	all, err := s.deps.DB.ListDrivers()
	if err != nil {
		return "", err
	}
	for _, d := range all {
		if d.DisplayName == ot.Target {
			return d.Path, nil
		}
	}
	if len(all) > 0 {
		return all[0].Path, nil
	}
	return "", fmt.Errorf("no driver available for %q", ot.Target)
}

func pathsOf(drivers []channeldb.Driver) []string {
	out := make([]string, len(drivers))
	for i, d := range drivers {
		out[i] = d.Path
	}
	return out
}

// handleSetChannelSimple handles the legacy v1-ABI single-byte channel form.
func (s *Session) handleSetChannelSimple(m wire.SetChannel) bool {
	key := sharedtuner.ChannelKey{Simple: m.Channel, UseSimple: true}
	actual, err := s.tuneKey(key, m.Priority, m.Exclusive)
	if err != nil {
		return s.writeOK(wire.SetChannelAck{Ack: ackFail(wire.ErrChannelSetFailed, err.Error())})
	}
	_ = actual
	return s.writeOK(wire.SetChannelAck{Ack: ackOK()})
}

// handleSetChannelSpace handles the modern (space,channel) form, optionally
// scoped to a driver group shared by this opcode.
func (s *Session) handleSetChannelSpace(m wire.SetChannelSpace) bool {
	if m.InGroup && m.GroupName != "" {
		drivers, err := s.deps.DB.GetGroupDrivers(m.GroupName)
		if err != nil || len(drivers) == 0 {
			return s.writeOK(wire.SetChannelSpaceAck{Ack: ackFail(wire.ErrTunerOpenFailed, "unknown group")})
		}
		s.groupName = m.GroupName
		s.groupDriverPaths = pathsOf(drivers)
	}

	key := sharedtuner.ChannelKey{Space: m.Space, Channel: m.Channel}
	actual, err := s.tuneKey(key, m.Priority, m.Exclusive)
	if err != nil {
		return s.writeOK(wire.SetChannelSpaceAck{Ack: ackFail(wire.ErrChannelSetFailed, err.Error())})
	}
	return s.writeOK(wire.SetChannelSpaceAck{
		Ack:           ackOK(),
		TunerPath:     actual.DriverPath,
		ActualSpace:   actual.Space,
		ActualChannel: actual.Channel,
	})
}

// handleSelectLogicalChannel resolves (nid, tsid[, sid]) against the
// channel database, ordered by channel priority then driver scan priority,
// and tunes the first enabled candidate that actually succeeds.
func (s *Session) handleSelectLogicalChannel(m wire.SelectLogicalChannel) bool {
	channels, err := s.deps.DB.GetChannelsByNIDTSIDOrdered(m.NID, m.TSID)
	if err != nil {
		return s.writeOK(wire.SelectLogicalChannelAck{Ack: ackFail(wire.ErrGeneric, err.Error())})
	}

	var lastErr error
	for _, ch := range channels {
		if !ch.IsEnabled {
			continue
		}
		if m.HasSID && uint32(ch.SID) != m.SID {
			continue
		}
		driver, err := s.deps.DB.GetDriver(ch.DriverID)
		if err != nil {
			lastErr = err
			continue
		}
		key := sharedtuner.ChannelKey{DriverPath: driver.Path, Space: ch.BonSpace, Channel: ch.BonChannel}
		if err := s.activateCandidate(key, s.priority, s.exclusive); err != nil {
			lastErr = err
			continue
		}
		s.driverPath = driver.Path
		return s.writeOK(wire.SelectLogicalChannelAck{
			Ack:           ackOK(),
			TunerPath:     driver.Path,
			ActualSpace:   ch.BonSpace,
			ActualChannel: ch.BonChannel,
		})
	}
	if lastErr == nil {
		lastErr = errNoCandidates
	}
	return s.writeOK(wire.SelectLogicalChannelAck{Ack: ackFail(wire.ErrChannelSetFailed, lastErr.Error())})
}

// handleGetChannelList lists every enabled channel visible from the
// session's resolved tuner (or every driver in its group), optionally
// filtered by a name substring.
func (s *Session) handleGetChannelList(m wire.GetChannelList) bool {
	paths := s.candidatePaths()
	if len(paths) == 0 && s.driverPath != "" {
		paths = []string{s.driverPath}
	}

	var entries []wire.ChannelListEntry
	seen := make(map[string]struct{})
	for _, path := range paths {
		if _, dup := seen[path]; dup {
			continue
		}
		seen[path] = struct{}{}

		d, err := s.deps.DB.GetDriverByPath(path)
		if err != nil {
			continue
		}
		chans, err := s.deps.DB.GetAllChannelsWithDrivers(d.ID)
		if err != nil {
			continue
		}
		for _, ch := range chans {
			if !ch.IsEnabled {
				continue
			}
			if m.HasFilter && !strings.Contains(ch.Name, m.Filter) {
				continue
			}
			entries = append(entries, wire.ChannelListEntry{
				NID: ch.NID, TSID: ch.TSID, SID: ch.SID, Name: ch.Name,
				Space: ch.BonSpace, Channel: ch.BonChannel,
			})
		}
	}
	return s.writeOK(wire.GetChannelListAck{Ack: ackOK(), Entries: entries})
}

// ensureSpaces (re)builds the cached virtual space list for the session's
// currently resolved driver, if it is stale or absent.
func (s *Session) ensureSpaces() error {
	if s.spaces != nil && s.spacesPath == s.driverPath {
		return nil
	}
	d, err := s.deps.DB.GetDriverByPath(s.driverPath)
	if err != nil {
		return err
	}
	chans, err := s.deps.DB.GetAllChannelsWithDrivers(d.ID)
	if err != nil {
		return err
	}
	sgChans := make([]spacegen.Channel, 0, len(chans))
	for _, ch := range chans {
		if !ch.IsEnabled {
			continue
		}
		sgChans = append(sgChans, spacegen.Channel{
			NID: ch.NID, TSID: ch.TSID, SID: ch.SID, Name: ch.Name,
			BonSpace: ch.BonSpace, BonChannel: ch.BonChannel, Priority: ch.Priority,
		})
	}
	s.spaces = spacegen.Generate(sgChans)
	s.spacesPath = s.driverPath
	return nil
}

// openHistoryIfNeeded starts a session_history row the first time a
// session begins streaming; it is a best-effort accounting hook and never
// fails the caller's request.
func (s *Session) openHistoryIfNeeded() {
	if s.historyOpen || s.deps.DB == nil {
		return
	}
	id, err := s.deps.DB.StartSession(s.remoteAddr, s.driverPath, 0, 0, 0)
	if err != nil {
		log.Printf("session: %s: start session history: %v", s.remoteAddr, err)
		return
	}
	s.historyID = id
	s.historyOpen = true
}

// candidatePaths returns the ordered set of driver paths this session may
// tune against: every member of its resolved group, ranked by ascending
// drop rate (best quality first), or its single resolved driver path.
func (s *Session) candidatePaths() []string {
	if s.groupName != "" && len(s.groupDriverPaths) > 0 {
		paths := append([]string(nil), s.groupDriverPaths...)
		sort.SliceStable(paths, func(i, j int) bool {
			return s.driverDropRate(paths[i]) < s.driverDropRate(paths[j])
		})
		return paths
	}
	if s.driverPath != "" {
		return []string{s.driverPath}
	}
	return nil
}

func (s *Session) driverDropRate(path string) float64 {
	d, err := s.deps.DB.GetDriverByPath(path)
	if err != nil {
		return 0
	}
	stats, err := s.deps.DB.GetQualityStats(d.ID)
	if err != nil {
		return 0
	}
	return stats.DropRate()
}

// tuneKey tries every candidate driver path for key, in quality-ranked
// order, until one activates successfully. It returns the ChannelKey that
// actually ended up tuned, with DriverPath filled in.
func (s *Session) tuneKey(key sharedtuner.ChannelKey, priority int32, exclusive bool) (sharedtuner.ChannelKey, error) {
	candidates := s.candidatePaths()
	if len(candidates) == 0 {
		return key, errNoCandidates
	}

	var lastErr error
	for _, path := range candidates {
		candKey := key
		candKey.DriverPath = path
		if err := s.activateCandidate(candKey, priority, exclusive); err != nil {
			lastErr = err
			continue
		}
		return candKey, nil
	}
	if lastErr == nil {
		lastErr = errNoCandidates
	}
	return key, lastErr
}

// activateCandidate opens (or reuses) the tuner for key, enforces
// exclusivity/capacity against its driver's other live tunings, subscribes
// this session to it, and only then releases whatever tuner the session
// held before — so a failed switch leaves the old stream intact.
func (s *Session) activateCandidate(key sharedtuner.ChannelKey, priority int32, exclusive bool) error {
	if s.hasTuner && s.key == key {
		s.priority, s.exclusive = priority, exclusive
		if s.deps.Registry != nil {
			s.deps.Registry.SetPriority(key, priority)
		}
		return nil
	}

	tuner, created := s.deps.Pool.GetOrCreate(key)
	if created {
		if err := s.startFreshTuner(tuner, key, priority, exclusive); err != nil {
			s.deps.Pool.Remove(key)
			return err
		}
	} else {
		s.deps.Pool.CancelIdleClose(key)
	}

	subID, ch := tuner.Subscribe()

	if s.hasTuner {
		s.releaseCurrentTuner()
	}

	s.key = key
	s.tuner = tuner
	s.adapter = tuner.Adapter()
	s.subID = subID
	s.broadcastCh = ch
	s.hasTuner = true
	s.priority = priority
	s.exclusive = exclusive
	if s.deps.Registry != nil {
		s.deps.Registry.SetPriority(key, priority)
	}
	return nil
}

// startFreshTuner opens the driver adapter, enforces the driver's
// max_instances budget (preempting a lower-priority tuning if needed, or
// clearing the field for an exclusive request), and starts the reader.
func (s *Session) startFreshTuner(tuner *sharedtuner.SharedTuner, key sharedtuner.ChannelKey, priority int32, exclusive bool) error {
	adapter, err := s.deps.OpenDriver(key.DriverPath)
	if err != nil {
		return fmt.Errorf("open driver %s: %w", key.DriverPath, err)
	}

	if err := s.enforceCapacity(key, priority, exclusive); err != nil {
		adapter.Close()
		return err
	}

	ctx, cancel := ctxWithTimeout(tuneTimeout)
	defer cancel()
	if err := tuner.StartReader(ctx, adapter, s.deps.Pool.ReaderConfig(), s.deps.NewPipe); err != nil {
		adapter.Close()
		return fmt.Errorf("start reader: %w", err)
	}
	return nil
}

// enforceCapacity keeps a driver's concurrent tuning count within its
// max_instances, preempting the lowest-priority existing tuning on that
// driver if the new request outranks it (or unconditionally, if exclusive).
func (s *Session) enforceCapacity(key sharedtuner.ChannelKey, priority int32, exclusive bool) error {
	path := key.DriverPath

	if exclusive {
		for _, k := range s.deps.Pool.Keys() {
			if k.DriverPath != path || k == key {
				continue
			}
			s.preempt(k)
		}
		return nil
	}

	maxInstances, err := s.deps.DB.GetMaxInstancesForPath(path)
	if err != nil {
		maxInstances = 1
	}
	count := s.deps.Pool.CountForPath(path)
	if maxInstances <= 0 || count <= maxInstances {
		return nil
	}

	if s.deps.Registry == nil {
		return fmt.Errorf("driver %s at capacity (%d/%d)", path, count, maxInstances)
	}
	priorities := toPriorityInts(s.deps.Registry.Priorities())
	lowestKey, found := s.deps.Pool.LowestPriorityKeyForPath(path, priorities)
	if !found || priorities[lowestKey] >= int(priority) {
		return fmt.Errorf("driver %s at capacity (%d/%d)", path, count, maxInstances)
	}
	s.preempt(lowestKey)
	return nil
}

func (s *Session) preempt(key sharedtuner.ChannelKey) {
	if t := s.deps.Pool.Get(key); t != nil {
		if err := t.Stop(preemptStopTimeout); err != nil {
			log.Printf("session: %s: preempt %s: %v", s.remoteAddr, key, err)
		}
	}
	s.deps.Pool.Remove(key)
	if s.deps.Registry != nil {
		s.deps.Registry.ClearPriority(key)
	}
}

func toPriorityInts(m map[sharedtuner.ChannelKey]int32) map[sharedtuner.ChannelKey]int {
	out := make(map[sharedtuner.ChannelKey]int, len(m))
	for k, v := range m {
		out[k] = int(v)
	}
	return out
}
