package node

import (
	"time"

	"github.com/loramesh/meshnet/pkg/sos"
)

// Status is the result of the get_status control-surface operation.
type Status struct {
	Address        uint32
	Name           string
	BatteryPercent byte

	TimeSynced  bool
	TimeSource  string
	TimeStratum byte

	HasFix bool
	LatE7  int32
	LonE7  int32
	AltM   int32

	SOSActive bool
	SOSType   sos.Type

	NeighborCount int
	RouteCount    int
	SessionCount  int
	HeldBundles   int
}

// NeighborInfo is one entry of the list_neighbors result.
type NeighborInfo struct {
	Address  uint32
	Name     string
	RSSI     int16
	SNR      int8
	Quality  float64
	LastSeen time.Time
}

// RouteInfo is one entry of the list_routes result.
type RouteInfo struct {
	Destination uint32
	NextHop     uint32
	HopCount    byte
	Quality     float64
	InstalledAt time.Time
}

// BundleInfo is one entry of the list_bundles result.
type BundleInfo struct {
	ID          uint32
	Source      uint32
	Destination uint32
	Payload     []byte
	CreatedAt   time.Time
}
