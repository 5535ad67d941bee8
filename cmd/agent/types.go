package main

import (
	"fleetpulse/internal/common"
)

// Re-export common types for convenience
type SystemMetrics = common.SystemMetrics
type OsInfo = common.OsInfo
type CpuMetrics = common.CpuMetrics
type MemoryMetrics = common.MemoryMetrics
type DiskMetrics = common.DiskMetrics
type NetworkMetrics = common.NetworkMetrics
type NetworkInterface = common.NetworkInterface
type LoadAverage = common.LoadAverage
type PingMetrics = common.PingMetrics
type PingTarget = common.PingTarget
type PingTargetConfig = common.PingTargetConfig
type AuthMessage = common.AuthMessage
type MetricsMessage = common.MetricsMessage
type ServerResponse = common.ServerResponse
type RegisterRequest = common.RegisterRequest
type RegisterResponse = common.RegisterResponse
