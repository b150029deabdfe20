package agent

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const fieldMask = 0x3F

// PackWorkingTime encodes a daily window as four 6-bit fields:
// startH<<24 | startM<<16 | endH<<8 | endM.
func PackWorkingTime(startH, startM, endH, endM int) uint32 {
	return uint32(startH&fieldMask)<<24 |
		uint32(startM&fieldMask)<<16 |
		uint32(endH&fieldMask)<<8 |
		uint32(endM&fieldMask)
}

func UnpackWorkingTime(packed uint32) (startH, startM, endH, endM int) {
	startH = int((packed >> 24) & fieldMask)
	startM = int((packed >> 16) & fieldMask)
	endH = int((packed >> 8) & fieldMask)
	endM = int(packed & fieldMask)
	return
}

// ParseWorkingTime parses "HH:MM-HH:MM". An empty string means no window.
func ParseWorkingTime(value string) (uint32, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	start, end, ok := strings.Cut(value, "-")
	if !ok {
		return 0, fmt.Errorf("invalid working time %q: expected HH:MM-HH:MM", value)
	}

	startH, startM, err := parseClock(start)
	if err != nil {
		return 0, fmt.Errorf("invalid working time start: %w", err)
	}
	endH, endM, err := parseClock(end)
	if err != nil {
		return 0, fmt.Errorf("invalid working time end: %w", err)
	}
	if startH == endH && startM == endM {
		return 0, fmt.Errorf("invalid working time %q: empty window", value)
	}

	return PackWorkingTime(startH, startM, endH, endM), nil
}

func parseClock(value string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not HH:MM", value)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", value)
	}
	return hour, minute, nil
}

// WorkingSleep returns how long to wait from now until the packed window
// [start, end) opens again. Windows where end is before start span midnight.
func WorkingSleep(packed uint32, now time.Time) time.Duration {
	if packed == 0 {
		return 0
	}

	startH, startM, endH, endM := UnpackWorkingTime(packed)
	start := startH*60 + startM
	end := endH*60 + endM
	if start == end {
		return 0
	}

	current := now.Hour()*60 + now.Minute()

	var inside bool
	if start < end {
		inside = current >= start && current < end
	} else {
		inside = current >= start || current < end
	}
	if inside {
		return 0
	}

	minutes := (start - current + 24*60) % (24 * 60)
	wait := time.Duration(minutes)*time.Minute - time.Duration(now.Second())*time.Second
	if wait < 0 {
		wait = 0
	}
	return wait
}
