package spacegen

import "sort"

// Channel is the subset of a channel-database record the generator needs.
type Channel struct {
	NID        uint16
	TSID       uint16
	SID        uint16
	Name       string
	BonSpace   uint32
	BonChannel uint32
	Priority   int32
}

// PhysicalChannel is one (bon_space, bon_channel) pair backing a virtual
// space's channel, paired with the enabled channel's own identity.
type PhysicalChannel struct {
	BonSpace   uint32
	BonChannel uint32
	NID        uint16
	TSID       uint16
	SID        uint16
	Name       string
	Priority   int32
}

// VirtualSpace is one client-visible tuning space: either a terrestrial
// region or a whole non-terrestrial band.
type VirtualSpace struct {
	Index       int
	DisplayName string
	Band        BandType
	Region      string // prefecture name; empty for non-terrestrial bands
	NIDs        map[uint16]struct{}
	Channels    []PhysicalChannel
}

// terrestrialOrder is the fixed prefecture emission order: wide-area
// ("広域放送") region IDs first, then the rest in ascending region_id order,
// matching the source table's enumeration.
var terrestrialOrder = []uint8{
	1, 2, 3, 4, 5, 6,
	10, 11, 12, 13, 14, 15, 16,
	17, 18, 19, 20, 21, 22,
	23, 24, 25, 26, 27, 28, 29,
	30, 31, 32,
	33, 34, 35, 36, 37, 38, 39,
	40, 41, 42, 43, 44, 45,
	46, 47, 48, 49, 50,
	51, 52, 53, 54,
	55, 56, 57, 58, 59, 60, 61,
	62,
}

// bandEmitOrder fixes the non-terrestrial emission order after all
// terrestrial regions: BS, then CS, then the remaining bands.
var bandEmitOrder = []BandType{BandBS, BandCS, BandFourK, BandSKY, BandCATV, BandOther}

// Generate partitions channels into virtual spaces per the fixed algorithm:
// terrestrial channels split by ARIB region, then grouped with the other
// bands in a fixed emission order. The result is deterministic for a fixed
// input slice regardless of input ordering.
func Generate(channels []Channel) []VirtualSpace {
	type regionBucket struct {
		nids     map[uint16]struct{}
		channels []PhysicalChannel
	}
	terrestrial := make(map[uint8]*regionBucket)
	others := make(map[BandType]*regionBucket)

	for _, ch := range channels {
		band, regionID, _ := ClassifyNID(ch.NID)
		phys := PhysicalChannel{
			BonSpace: ch.BonSpace, BonChannel: ch.BonChannel,
			NID: ch.NID, TSID: ch.TSID, SID: ch.SID,
			Name: ch.Name, Priority: ch.Priority,
		}
		var bucket *regionBucket
		if band == BandTerrestrial && regionID != 0 {
			bucket = terrestrial[regionID]
			if bucket == nil {
				bucket = &regionBucket{nids: make(map[uint16]struct{})}
				terrestrial[regionID] = bucket
			}
		} else {
			bucket = others[band]
			if bucket == nil {
				bucket = &regionBucket{nids: make(map[uint16]struct{})}
				others[band] = bucket
			}
		}
		bucket.nids[ch.NID] = struct{}{}
		bucket.channels = append(bucket.channels, phys)
	}

	var spaces []VirtualSpace
	idx := 0

	for _, regionID := range terrestrialOrder {
		bucket, ok := terrestrial[regionID]
		if !ok {
			continue
		}
		sortChannels(bucket.channels)
		spaces = append(spaces, VirtualSpace{
			Index:       idx,
			DisplayName: PrefectureName(regionID),
			Band:        BandTerrestrial,
			Region:      PrefectureName(regionID),
			NIDs:        bucket.nids,
			Channels:    bucket.channels,
		})
		idx++
	}

	for _, band := range bandEmitOrder {
		bucket, ok := others[band]
		if !ok {
			continue
		}
		sortChannels(bucket.channels)
		spaces = append(spaces, VirtualSpace{
			Index:       idx,
			DisplayName: band.String(),
			Band:        band,
			NIDs:        bucket.nids,
			Channels:    bucket.channels,
		})
		idx++
	}

	return spaces
}

// sortChannels orders a virtual space's channels by priority DESC (ties
// broken by bon_space/bon_channel for determinism), matching the channel
// database's own ordered-query tie-breaking.
func sortChannels(chs []PhysicalChannel) {
	sort.SliceStable(chs, func(i, j int) bool {
		if chs[i].Priority != chs[j].Priority {
			return chs[i].Priority > chs[j].Priority
		}
		if chs[i].BonSpace != chs[j].BonSpace {
			return chs[i].BonSpace < chs[j].BonSpace
		}
		return chs[i].BonChannel < chs[j].BonChannel
	})
}
