// Package status builds the payload returned by the built-in STATUS
// operation: a snapshot of host telemetry plus an implementation-provided
// extension slot.
package status

import (
	"net"
	"os"
	"runtime"
	"time"
)

var processStart = time.Now()

// HostStatus is a best-effort snapshot of the process and its host. Every
// group of fields is collected independently: a failure to read one group
// leaves its fields zero and never fails the others.
type HostStatus struct {
	LastUpdated int64 `json:"lastUpdated"`

	// OS
	OSName         string `json:"osName"`
	OSArchitecture string `json:"osArchitecture"`

	// CPU / scheduler
	CPUCores   int `json:"cpuCores"`
	Goroutines int `json:"goroutines"`

	// Runtime memory
	RuntimeMemoryAllocBytes uint64 `json:"runtimeMemoryAllocBytes"`
	RuntimeMemorySysBytes   uint64 `json:"runtimeMemorySysBytes"`
	HeapObjects             uint64 `json:"heapObjects"`
	GCCycles                uint32 `json:"gcCycles"`

	// Process
	GoVersion    string `json:"goVersion"`
	PID          int    `json:"pid"`
	UptimeMillis int64  `json:"uptimeMillis"`

	// Network
	Hostname       string `json:"hostname"`
	IPAddressLocal string `json:"ipAddressLocal"`
}

// ServiceStatus is the body of a STATUS reply: the host snapshot plus
// whatever the service implementation contributed. When the extension
// function fails, Extra holds serialized error details instead - a STATUS
// call never turns into an ERROR reply because of a broken extension.
type ServiceStatus struct {
	Host  *HostStatus `json:"host"`
	Extra any         `json:"extra"`
}

// NewServiceStatus wraps a fresh host snapshot together with the
// implementation extension value.
func NewServiceStatus(extra any) ServiceStatus {
	return ServiceStatus{Host: Collect(), Extra: extra}
}

// Collect takes a best-effort snapshot of the host.
func Collect() *HostStatus {
	s := &HostStatus{
		LastUpdated:    time.Now().UnixMilli(),
		OSName:         runtime.GOOS,
		OSArchitecture: runtime.GOARCH,
		CPUCores:       runtime.NumCPU(),
		Goroutines:     runtime.NumGoroutine(),
		GoVersion:      runtime.Version(),
		PID:            os.Getpid(),
		UptimeMillis:   time.Since(processStart).Milliseconds(),
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.RuntimeMemoryAllocBytes = mem.Alloc
	s.RuntimeMemorySysBytes = mem.Sys
	s.HeapObjects = mem.HeapObjects
	s.GCCycles = mem.NumGC

	if hostname, err := os.Hostname(); err == nil {
		s.Hostname = hostname
	}
	s.IPAddressLocal = localIP()

	return s
}

// localIP returns the first non-loopback unicast IPv4 address, or the empty
// string when none can be determined.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}
