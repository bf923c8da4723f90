package sysinfo

import (
	"context"
	stdnet "net"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Info is a snapshot of local identity and networking facts sent with each check-in.
type Info struct {
	Hostname        string      `json:"hostname,omitempty"`
	HostID          string      `json:"hostId,omitempty"`
	OS              string      `json:"os"`
	Platform        string      `json:"platform,omitempty"`
	PlatformVersion string      `json:"platformVersion,omitempty"`
	KernelVersion   string      `json:"kernelVersion,omitempty"`
	Arch            string      `json:"arch"`
	UptimeSec       uint64      `json:"uptimeSec,omitempty"`
	BootTime        uint64      `json:"bootTime,omitempty"`
	CPUCount        int         `json:"cpuCount,omitempty"`
	MemTotal        uint64      `json:"memTotal,omitempty"`
	MemUsedPercent  float64     `json:"memUsedPercent,omitempty"`
	Load1           float64     `json:"load1,omitempty"`
	IP              string      `json:"ip,omitempty"`
	MAC             string      `json:"mac,omitempty"`
	Interfaces      []Interface `json:"interfaces,omitempty"`
	CollectedAt     string      `json:"collectedAt"`
}

// Interface describes one network interface.
type Interface struct {
	Name  string   `json:"name"`
	MAC   string   `json:"mac,omitempty"`
	MTU   int      `json:"mtu,omitempty"`
	Addrs []string `json:"addrs,omitempty"`
	Up    bool     `json:"up"`
}

// Collector gathers Info with gopsutil. Facts that cannot be read are left empty.
type Collector struct{}

// NewCollector returns a Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Collect reads a fresh snapshot. It only fails when ctx is done.
func (c *Collector) Collect(ctx context.Context) (Info, error) {
	out := Info{
		OS:          runtime.GOOS,
		Arch:        runtime.GOARCH,
		CollectedAt: time.Now().Format(time.RFC3339),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil && hi != nil {
		out.Hostname = hi.Hostname
		out.HostID = hi.HostID
		out.Platform = hi.Platform
		out.PlatformVersion = hi.PlatformVersion
		out.KernelVersion = hi.KernelVersion
		out.UptimeSec = hi.Uptime
		out.BootTime = hi.BootTime
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		out.CPUCount = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		out.MemTotal = vm.Total
		out.MemUsedPercent = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		out.Load1 = avg.Load1
	}
	if ifaces, err := net.InterfacesWithContext(ctx); err == nil {
		out.Interfaces = convertInterfaces(ifaces)
		out.IP, out.MAC = primaryAddress(out.Interfaces)
	}

	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	return out, nil
}

func convertInterfaces(list net.InterfaceStatList) []Interface {
	out := make([]Interface, 0, len(list))
	for _, ifc := range list {
		item := Interface{
			Name: ifc.Name,
			MAC:  ifc.HardwareAddr,
			MTU:  ifc.MTU,
		}
		for _, flag := range ifc.Flags {
			if strings.EqualFold(flag, "up") {
				item.Up = true
			}
		}
		for _, a := range ifc.Addrs {
			item.Addrs = append(item.Addrs, a.Addr)
		}
		out = append(out, item)
	}
	return out
}

// primaryAddress picks the first global IPv4 address on an interface that is up.
func primaryAddress(ifaces []Interface) (string, string) {
	for _, ifc := range ifaces {
		if !ifc.Up {
			continue
		}
		for _, addr := range ifc.Addrs {
			ip, _, err := stdnet.ParseCIDR(addr)
			if err != nil {
				ip = stdnet.ParseIP(addr)
			}
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.To4() == nil {
				continue
			}
			return ip.String(), ifc.MAC
		}
	}
	return "", ""
}
