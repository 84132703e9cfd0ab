package admin

import (
	"encoding/binary"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// Log page identifiers (LID), §4.5.
const (
	LIDError               uint8 = 0x1
	LIDHealth              uint8 = 0x2
	LIDFirmware             uint8 = 0x3
	LIDChangedNS            uint8 = 0x4
	LIDCommandsAndEffects uint8 = 0x5
	LIDDiscovery            uint8 = 0x70
	LIDReservation          uint8 = 0x80
	LIDANA                  uint8 = 0xc
)

const cdw10RAEBit uint32 = 1 << 15

// eventKindForLID maps a log page to the AEN kind its RAE=0 read unmasks,
// per the duplicate-suppression rule in §4.4.
func eventKindForLID(lid uint8) (string, bool) {
	switch lid {
	case LIDError:
		return "error", true
	case LIDChangedNS:
		return "ns_attr", true
	case LIDANA:
		return "ana_change", true
	case LIDDiscovery:
		return "discovery_log_change", true
	case LIDReservation:
		return "reservation_log_avail", true
	default:
		return "", false
	}
}

// GetLogPage implements the Get Log Page admin command: LID selects the
// page, NUMDL/NUMDU (CDW10 bits [31:16] / CDW11) bound the transfer length,
// LPOL/LPOU (CDW12/CDW13) give the byte offset to resume a partial read at.
func GetLogPage(c *ctrlr.Controller, sub subsystem.Subsystem, cmd nvme.Command, data []byte) *status.Status {
	lid := uint8(cmd.CDW10)
	rae := cmd.CDW10&cdw10RAEBit != 0
	numd := uint32(cmd.CDW10>>16) | (cmd.CDW11 << 16)
	xferLen := int(numd+1) * 4
	offset := uint64(cmd.CDW12) | uint64(cmd.CDW13)<<32

	var page []byte
	switch lid {
	case LIDError:
		page = buildErrorLog()
	case LIDHealth:
		page = buildHealthLog()
	case LIDFirmware:
		page = buildFirmwareLog()
	case LIDChangedNS:
		page = buildChangedNSLog()
	case LIDCommandsAndEffects:
		page = buildCommandsAndEffectsLog()
	case LIDDiscovery:
		page = buildDiscoveryLog(sub)
	case LIDReservation:
		page = buildReservationLog()
	case LIDANA:
		page = buildANALog(sub)
	default:
		return status.InvalidLogPage
	}

	copyLogPage(page, offset, data[:min(len(data), xferLen)])

	if !rae {
		if kind, ok := eventKindForLID(lid); ok {
			c.UnmaskEvent(kind)
		}
	}
	return nil
}

func copyLogPage(page []byte, offset uint64, out []byte) {
	if offset >= uint64(len(page)) {
		return
	}
	n := copy(out, page[offset:])
	_ = n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func buildErrorLog() []byte {
	// One zeroed 64-byte entry; this target never accumulates persistent
	// per-command error log entries.
	return make([]byte, 64)
}

func buildHealthLog() []byte {
	buf := make([]byte, 512)
	buf[0] = 0 // critical warning: none
	return buf
}

func buildFirmwareLog() []byte {
	buf := make([]byte, 512)
	buf[0] = 1 // AFI: firmware slot 1 active
	return buf
}

func buildChangedNSLog() []byte {
	// 1024-byte list of changed NSIDs; this target reports ANA/attach
	// changes only through the async event, not a tracked changed-list.
	return make([]byte, 1024)
}

func buildCommandsAndEffectsLog() []byte {
	// 4096-byte table of per-opcode effects bitmaps; zeroed entries mean
	// "no special effects reported" for every opcode.
	return make([]byte, 4096)
}

func buildReservationLog() []byte {
	return make([]byte, 64)
}

func buildDiscoveryLog(sub subsystem.Subsystem) []byte {
	const entryLen = 1024
	buf := make([]byte, 16+entryLen)
	binary.LittleEndian.PutUint64(buf[0:8], 1) // GENCTR
	binary.LittleEndian.PutUint64(buf[8:16], 1) // NUMREC

	entry := buf[16 : 16+entryLen]
	entry[0] = 2 // TRTYPE: TCP
	entry[1] = 1 // ADRFAM: ipv4
	entry[2] = 2 // SUBTYPE: NVM subsystem
	copy(entry[256:256+len(sub.NQN())], []byte(sub.NQN()))
	return buf
}

// ANA log layout: header (ngrps uint64 @0, chgcnt uint64 @8), then one
// descriptor per group (grpid u32, nsidcount u32, chgcnt u64, anastate u8,
// 15 reserved, then nsidcount*4 bytes of nsids), §4.5.
func buildANALog(sub subsystem.Subsystem) []byte {
	groups := sub.ANAGroups()
	membersByGroup := make(map[uint32][]uint32)
	sub.IterateNamespaces(func(ns subsystem.Namespace) bool {
		membersByGroup[ns.ANAGroupID()] = append(membersByGroup[ns.ANAGroupID()], ns.NSID())
		return true
	})

	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(groups)))

	for _, g := range groups {
		members := membersByGroup[g.GroupID]
		desc := make([]byte, 32+4*len(members))
		binary.LittleEndian.PutUint32(desc[0:4], g.GroupID)
		binary.LittleEndian.PutUint32(desc[4:8], uint32(len(members)))
		desc[16] = byte(g.State)
		for i, nsid := range members {
			binary.LittleEndian.PutUint32(desc[32+4*i:36+4*i], nsid)
		}
		buf = append(buf, desc...)
	}
	return buf
}
