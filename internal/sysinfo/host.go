package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/host"
	gopsnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

const codepageUTF8 = 65001

var arch64 = map[string]bool{
	"x86_64":  true,
	"amd64":   true,
	"aarch64": true,
	"arm64":   true,
	"ppc64le": true,
	"s390x":   true,
	"riscv64": true,
}

// Host collects the identity of the running process from the local machine.
type Host struct{}

func NewHost() *Host {
	return &Host{}
}

func (h *Host) Collect(ctx context.Context) (*Info, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read host info: %w", err)
	}

	info := &Info{
		ACP:          codepageUTF8,
		OEMCP:        codepageUTF8,
		GMTOffset:    gmtOffset(time.Now()),
		PID:          uint32(os.Getpid()),
		IsServer:     strings.Contains(strings.ToLower(hostInfo.Platform), "server"),
		Elevated:     os.Geteuid() == 0,
		Sys64:        arch64[hostInfo.KernelArch],
		Arch64:       strconv.IntSize == 64,
		DomainName:   os.Getenv("USERDOMAIN"),
		ComputerName: hostInfo.Hostname,
	}

	version := hostInfo.PlatformVersion
	if version == "" {
		version = hostInfo.KernelVersion
	}
	info.MajorVersion, info.MinorVersion, info.BuildNumber = ParseVersion(version)

	info.ProcessName, info.Username = h.processIdentity(ctx)
	info.InternalIP = internalIP(ctx)

	return info, nil
}

func (h *Host) processIdentity(ctx context.Context) (name, username string) {
	name = filepath.Base(os.Args[0])
	username = os.Getenv("USER")

	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Debug("Failed to open own process", "error", err)
		return
	}
	if n, err := p.NameWithContext(ctx); err == nil && n != "" {
		name = n
	}
	if u, err := p.UsernameWithContext(ctx); err == nil && u != "" {
		username = u
	}
	return
}

// internalIP returns the first IPv4 address of an up, non-loopback interface.
func internalIP(ctx context.Context) uint32 {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		slog.Debug("Failed to list interfaces", "error", err)
		return 0
	}

	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, _ := strings.Cut(addr.Addr, "/")
			if v := IPv4ToUint32(ip); v != 0 {
				return v
			}
		}
	}
	return 0
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

func gmtOffset(now time.Time) int8 {
	_, offset := now.Zone()
	return int8(offset / 3600)
}
