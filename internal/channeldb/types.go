package channeldb

import "time"

// Driver is one physical driver record.
type Driver struct {
	ID              int64
	Path            string
	DisplayName     string
	GroupName       string
	MaxInstances    int
	AutoScanEnabled bool
	IntervalHours   int
	NextScanAt      time.Time
	ScanPriority    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Channel is one channel record, keyed by (driver_id, nid, sid, tsid, manual_sheet).
type Channel struct {
	ID           int64
	DriverID     int64
	NID          uint16
	SID          uint16
	TSID         uint16
	ManualSheet  *int64
	BonSpace     uint32
	BonChannel   uint32
	Name         string
	BandType     int
	Region       string
	IsEnabled    bool
	Priority     int32
	FailureCount int
	ScanTime     time.Time
	LastSeen     time.Time
}

// ChannelInfo is what a scan observes for one channel, before it is merged
// into the durable Channel record.
type ChannelInfo struct {
	NID         uint16
	SID         uint16
	TSID        uint16
	ManualSheet *int64
	BonSpace    uint32
	BonChannel  uint32
	Name        string
	BandType    int
	Region      string
}

// ScanHistoryEntry is one row of scan_history.
type ScanHistoryEntry struct {
	ID            int64
	DriverID      int64
	Success       bool
	ChannelsFound int
	ErrorMessage  string
	DurationMS    int64
	CreatedAt     time.Time
}

// SessionHistoryEntry is one row of session_history, covering a client
// connection's full lifecycle.
type SessionHistoryEntry struct {
	ID               int64
	RemoteAddr       string
	DriverPath       string
	NID              uint16
	TSID             uint16
	SID              uint16
	StartedAt        time.Time
	EndedAt          *time.Time
	DurationSecs     int64
	BytesSent        int64
	PacketsSent      int64
	PacketsDropped   int64
	PacketsScrambled int64
	PacketsError     int64
	AvgBitrateBPS    float64
	AvgSignal        float64
	DisconnectReason string
}

// QualityStats is the accumulated per-driver quality row.
type QualityStats struct {
	DriverID         int64
	TotalSessions    int64
	PacketsHandled   int64
	PacketsDropped   int64
	PacketsScrambled int64
	PacketsError     int64
}

// DropRate returns PacketsDropped/PacketsHandled, or 0 if nothing handled
// yet. Used to rank fungible drivers within a group.
func (q QualityStats) DropRate() float64 {
	if q.PacketsHandled == 0 {
		return 0
	}
	return float64(q.PacketsDropped) / float64(q.PacketsHandled)
}
