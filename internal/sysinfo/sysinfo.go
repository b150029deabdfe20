package sysinfo

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"strings"
)

// Info is the host snapshot announced in the identity beat.
type Info struct {
	ACP          uint16
	OEMCP        uint16
	GMTOffset    int8
	PID          uint32
	TID          uint32
	BuildNumber  uint32
	MajorVersion uint8
	MinorVersion uint8
	InternalIP   uint32
	IsServer     bool
	Elevated     bool
	Sys64        bool
	Arch64       bool
	DomainName   string
	ComputerName string
	Username     string
	ProcessName  string
}

type Provider interface {
	Collect(ctx context.Context) (*Info, error)
}

// Static returns the same snapshot on every call.
type Static struct {
	Info Info
}

func (s Static) Collect(context.Context) (*Info, error) {
	info := s.Info
	return &info, nil
}

// IPv4ToUint32 packs a dotted IPv4 address, returning 0 for anything else.
func IPv4ToUint32(addr string) uint32 {
	ip := net.ParseIP(addr).To4()
	if ip == nil {
		return 0
	}
	return binary.BigEndian.Uint32(ip)
}

// ParseVersion splits strings such as "10.0.19045" or "6.8.0-45-generic"
// into major, minor and build numbers.
func ParseVersion(version string) (major, minor uint8, build uint32) {
	parts := strings.FieldsFunc(version, func(r rune) bool {
		return r == '.' || r == '-' || r == ' '
	})

	nums := make([]uint64, 0, 3)
	for _, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			break
		}
		nums = append(nums, n)
		if len(nums) == 3 {
			break
		}
	}

	if len(nums) > 0 {
		major = uint8(nums[0])
	}
	if len(nums) > 1 {
		minor = uint8(nums[1])
	}
	if len(nums) > 2 {
		build = uint32(nums[2])
	}
	return
}
