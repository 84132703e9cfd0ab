// Package admin implements the admin command set: Identify, Get Log Page,
// Get/Set Features, Abort, and Async Event Request, §4.5. Every handler
// takes the decoded nvme.Command plus the owning Controller/Subsystem and
// returns a *status.Status (nil on success) alongside whatever CDW0 value
// belongs in the completion, mirroring the adapter-layer handlers
// that return (response, *ProtocolError) rather than panicking on a
// malformed request.
package admin

import (
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
)

// Feature identifiers this target exposes via Get/Set Features.
const (
	FIDArbitration         uint8 = 0x01
	FIDPowerManagement     uint8 = 0x02
	FIDTemperatureThreshold uint8 = 0x04
	FIDErrorRecovery       uint8 = 0x05
	FIDVolatileWriteCache  uint8 = 0x06
	FIDNumberOfQueues      uint8 = 0x07
	FIDInterruptCoalescing uint8 = 0x08
	FIDInterruptVectorConfig uint8 = 0x09
	FIDWriteAtomicityNormal uint8 = 0x0A
	FIDAsyncEventConfig    uint8 = 0x0B
	FIDKeepAliveTimer      uint8 = 0x0F
	FIDHostIdentifier      uint8 = 0x81
	FIDReservationNotifMask uint8 = 0x82
	FIDReservationPersist  uint8 = 0x83
)

const cdw10SaveBit uint32 = 1 << 31

func fid(cdw10 uint32) uint8 { return uint8(cdw10) }

// GetFeatures implements the Get Features admin command. data carries the
// command's attached buffer, used only by Host Identifier (which returns a
// 16-byte UUID rather than fitting in CDW0).
func GetFeatures(c *ctrlr.Controller, cmd nvme.Command, data []byte) (cdw0 uint32, st *status.Status) {
	switch fid(cmd.CDW10) {
	case FIDArbitration:
		return c.Features.Arbitration, nil
	case FIDPowerManagement:
		return c.Features.PowerManagementPS, nil
	case FIDTemperatureThreshold:
		return c.Features.TemperatureThreshold, nil
	case FIDErrorRecovery:
		var v uint32
		if c.Features.ErrorRecoveryDULBE {
			v |= 1 << 16
		}
		return v, nil
	case FIDVolatileWriteCache:
		if c.Features.VolatileWriteCache {
			return 1, nil
		}
		return 0, nil
	case FIDNumberOfQueues:
		// Always returns the pre-configured value, regardless of what the
		// host previously requested via Set Features (§4.5).
		return c.Features.NumberOfQueues, nil
	case FIDInterruptCoalescing:
		return c.Features.InterruptCoalescing, nil
	case FIDInterruptVectorConfig:
		return c.Features.InterruptVectorConf, nil
	case FIDWriteAtomicityNormal:
		if c.Features.WriteAtomicityDisableNormal {
			return 1, nil
		}
		return 0, nil
	case FIDAsyncEventConfig:
		return c.Features.AsyncEventConfig, nil
	case FIDKeepAliveTimer:
		return c.Features.KeepAliveTimeoutMs, nil
	case FIDHostIdentifier:
		if len(data) >= 16 {
			copy(data[:16], c.Features.HostIdentifier[:])
		}
		return 0, nil
	case FIDReservationNotifMask:
		return 0, nil
	case FIDReservationPersist:
		if c.Features.ReservationPersist {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, status.InvalidField
	}
}

// SetFeatures implements the Set Features admin command.
func SetFeatures(c *ctrlr.Controller, cmd nvme.Command, data []byte) *status.Status {
	if cmd.CDW10&cdw10SaveBit != 0 {
		return status.FeatureIDNotSaveable
	}

	switch fid(cmd.CDW10) {
	case FIDArbitration:
		c.Features.Arbitration = cmd.CDW11
	case FIDPowerManagement:
		ps := cmd.CDW11 & 0x1F
		if ps != 0 {
			return status.InvalidField
		}
		c.Features.PowerManagementPS = ps
	case FIDTemperatureThreshold:
		c.Features.TemperatureThreshold = cmd.CDW11
	case FIDErrorRecovery:
		dulbe := cmd.CDW11&(1<<16) != 0
		if dulbe {
			return status.InvalidField
		}
		c.Features.ErrorRecoveryDULBE = dulbe
	case FIDVolatileWriteCache:
		c.Features.VolatileWriteCache = cmd.CDW11&0x1 != 0
	case FIDNumberOfQueues:
		if c.ActiveQpairCount() > 1 {
			return status.CommandSequenceError
		}
		// The pre-configured queue count is fixed at Connect time; the
		// request is accepted but its value is otherwise ignored.
	case FIDInterruptCoalescing:
		c.Features.InterruptCoalescing = cmd.CDW11
	case FIDInterruptVectorConfig:
		c.Features.InterruptVectorConf = cmd.CDW11
	case FIDWriteAtomicityNormal:
		c.Features.WriteAtomicityDisableNormal = cmd.CDW11&0x1 != 0
	case FIDAsyncEventConfig:
		c.Features.AsyncEventConfig = cmd.CDW11
	case FIDKeepAliveTimer:
		c.Features.KeepAliveTimeoutMs = cmd.CDW11
	case FIDHostIdentifier:
		exhid := cmd.CDW11&0x1 != 0
		if !exhid {
			return status.InvalidField
		}
		if len(data) >= 16 {
			copy(c.Features.HostIdentifier[:], data[:16])
		}
	case FIDReservationNotifMask:
		// accepted, not separately modeled
	case FIDReservationPersist:
		c.Features.ReservationPersist = cmd.CDW11&0x1 != 0
	default:
		return status.InvalidField
	}
	return nil
}
