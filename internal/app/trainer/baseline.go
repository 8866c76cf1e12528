package trainer

import "github.com/synapseshield/shield/internal/domain"

// Baseline returns the four-row reference dataset of normal device behaviour
// used by `shield train --demo`.
func Baseline() domain.Dataset {
	return domain.NewDataset(
		domain.Telemetry{DeviceID: "baseline-1", CPUUsage: 0.1, NetworkPackets: 100, FailedLogins: 0, TrafficVolume: 2000},
		domain.Telemetry{DeviceID: "baseline-2", CPUUsage: 0.2, NetworkPackets: 150, FailedLogins: 0, TrafficVolume: 2400},
		domain.Telemetry{DeviceID: "baseline-3", CPUUsage: 0.3, NetworkPackets: 120, FailedLogins: 1, TrafficVolume: 2200},
		domain.Telemetry{DeviceID: "baseline-4", CPUUsage: 0.4, NetworkPackets: 130, FailedLogins: 0, TrafficVolume: 2100},
	)
}
