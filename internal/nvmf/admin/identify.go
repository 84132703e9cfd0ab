package admin

import (
	"encoding/binary"
	"math/bits"
	"sort"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/bdev"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// Identify CNS values.
const (
	CNSNamespace     uint8 = 0
	CNSController    uint8 = 1
	CNSActiveNSList  uint8 = 2
	CNSNSDescriptors uint8 = 3
)

// IdentifyOptions are the controller-wide values the Identify Controller
// response needs beyond what's already on Controller/Subsystem.
type IdentifyOptions struct {
	MaxIOSize      uint32
	MaxQueueDepth  uint32
	ANAReporting   bool
	FirmwareVersion string // padded/truncated to 8 bytes
}

// Identify dispatches on CNS, writing up to 4096 bytes into data (the
// request's bound iov) and returning a failure status if the CNS/nsid
// combination isn't satisfiable.
func Identify(c *ctrlr.Controller, sub subsystem.Subsystem, cmd nvme.Command, data []byte, opts IdentifyOptions) *status.Status {
	cns := uint8(cmd.CDW10)
	for i := range data {
		data[i] = 0
	}
	switch cns {
	case CNSNamespace:
		return identifyNamespace(sub, cmd.NSID, data)
	case CNSController:
		return identifyController(c, sub, data, opts)
	case CNSActiveNSList:
		return identifyActiveNSList(sub, cmd.NSID, data)
	case CNSNSDescriptors:
		return identifyNSDescriptors(sub, cmd.NSID, data)
	default:
		return status.InvalidField
	}
}

func identifyNamespace(sub subsystem.Subsystem, nsid uint32, data []byte) *status.Status {
	ns, ok := sub.FindNamespace(nsid)
	if !ok {
		return status.InvalidNamespace
	}
	dev := ns.BlockDevice()
	nsze := dev.BlockCount()
	nuse := nsze

	for _, g := range sub.ANAGroups() {
		if g.GroupID == ns.ANAGroupID() && (g.State == subsystem.ANAInaccessible || g.State == subsystem.ANAPersistentLoss) {
			nuse = 0
		}
	}

	if len(data) < 32 {
		return status.InvalidField
	}
	binary.LittleEndian.PutUint64(data[0:8], nsze)   // NSZE
	binary.LittleEndian.PutUint64(data[8:16], nsze)   // NCAP
	binary.LittleEndian.PutUint64(data[16:24], nuse) // NUSE
	data[25] = 0 // FLBAS: LBA format index 0

	// LBA format descriptor 0, at byte offset 128 in the real 4096-byte
	// structure; this target only ever advertises one format.
	if len(data) >= 132 {
		lbads := uint8(bits.Len32(dev.BlockSize()) - 1)
		binary.LittleEndian.PutUint16(data[128:130], 0) // MS (metadata size)
		data[131] = lbads
	}
	return nil
}

// Byte offsets into the Identify Controller response this target fills in;
// matches the real NVMe layout closely enough to share tooling, though
// fields it never sets (SN, MN, ...) are left zero.
const (
	ctrlrOffFR    = 64 // firmware revision, 8 bytes
	ctrlrOffIEEE  = 73 // IEEE OUI, 3 bytes
	ctrlrOffCMIC  = 76
	ctrlrOffMDTS  = 77
	ctrlrOffCNTLID = 78 // 2 bytes
	ctrlrOffVER   = 80  // 4 bytes
	ctrlrOffCRDT0 = 128 // command retry delay time 1, 2 bytes
	ctrlrOffCRDT1 = 130 // command retry delay time 2, 2 bytes
	ctrlrOffCRDT2 = 132 // command retry delay time 3, 2 bytes
	ctrlrOffAERL  = 96
	ctrlrOffELPE  = 262
	ctrlrOffSQES  = 512
	ctrlrOffCQES  = 513
	ctrlrOffMAXCMD = 514 // 2 bytes
	ctrlrOffNN    = 516 // 4 bytes
	ctrlrOffONCS  = 520 // 2 bytes
	ctrlrOffFUSES = 522 // 2 bytes
	ctrlrOffVWC   = 525
	ctrlrOffSGLS  = 536 // 4 bytes
	identifyControllerMinLen = 540
)

// oncsCompare, oncsDatasetMgmt and oncsWriteZeroes are the ONCS bits this
// target can ever set: they mirror the opcodes io.Submit actually routes to
// a bdev, not every optional NVM command the field can describe.
const (
	oncsCompare     = 1 << 0
	oncsDatasetMgmt = 1 << 2
	oncsWriteZeroes = 1 << 3
)

func identifyController(c *ctrlr.Controller, sub subsystem.Subsystem, data []byte, opts IdentifyOptions) *status.Status {
	if len(data) < identifyControllerMinLen {
		return status.InvalidField
	}
	copy(data[ctrlrOffFR:ctrlrOffFR+8], []byte(padRight(opts.FirmwareVersion, 8)))
	copy(data[ctrlrOffIEEE:ctrlrOffIEEE+3], c.CData.OUI[:])
	data[ctrlrOffCMIC] = 1 << 0 // multi-port
	if opts.ANAReporting {
		data[ctrlrOffCMIC] |= 1 << 3
	}

	mdts := uint8(0)
	if opts.MaxIOSize > 4096 {
		mdts = uint8(bits.Len32(opts.MaxIOSize/4096) - 1)
	}
	data[ctrlrOffMDTS] = mdts

	binary.LittleEndian.PutUint16(data[ctrlrOffCNTLID:ctrlrOffCNTLID+2], c.CNTLID)
	binary.LittleEndian.PutUint32(data[ctrlrOffVER:ctrlrOffVER+4], c.Registers.VS)
	data[ctrlrOffAERL] = c.CData.AERL

	data[ctrlrOffSQES] = 6<<4 | 6 // SQES min/max = 6/6 (64 bytes)
	data[ctrlrOffCQES] = 4<<4 | 4 // CQES min/max = 4/4 (16 bytes)

	data[ctrlrOffELPE] = 127
	binary.LittleEndian.PutUint16(data[ctrlrOffMAXCMD:ctrlrOffMAXCMD+2], uint16(opts.MaxQueueDepth))
	binary.LittleEndian.PutUint16(data[ctrlrOffCRDT0:ctrlrOffCRDT0+2], 0)
	binary.LittleEndian.PutUint16(data[ctrlrOffCRDT1:ctrlrOffCRDT1+2], 0)
	binary.LittleEndian.PutUint16(data[ctrlrOffCRDT2:ctrlrOffCRDT2+2], 0)

	binary.LittleEndian.PutUint32(data[ctrlrOffNN:ctrlrOffNN+4], sub.MaxNSID())

	// ONCS/FUSES are derived from what the namespaces behind this
	// controller actually advertise, not hardcoded: a host must not be
	// told Compare/DSM/Write-Zeroes (or the Compare-and-Write fused op,
	// which needs Compare) are available when no bdev supports them.
	var supportsCompare, supportsDSM, supportsWriteZeroes bool
	sub.IterateNamespaces(func(ns subsystem.Namespace) bool {
		dev := ns.BlockDevice()
		supportsCompare = supportsCompare || dev.Supports(bdev.IOCompare)
		supportsDSM = supportsDSM || dev.Supports(bdev.IOUnmap)
		supportsWriteZeroes = supportsWriteZeroes || dev.Supports(bdev.IOWriteZeroes)
		return true
	})

	var oncs uint16
	if supportsCompare {
		oncs |= oncsCompare
	}
	if supportsDSM {
		oncs |= oncsDatasetMgmt
	}
	if supportsWriteZeroes {
		oncs |= oncsWriteZeroes
	}
	binary.LittleEndian.PutUint16(data[ctrlrOffONCS:ctrlrOffONCS+2], oncs)

	var fuses uint16
	if supportsCompare {
		fuses = 1 // compare-and-write fused op supported, needs Compare itself supported
	}
	binary.LittleEndian.PutUint16(data[ctrlrOffFUSES:ctrlrOffFUSES+2], fuses)

	data[ctrlrOffVWC] = 1 // volatile write cache present

	if c.CData.SGLKeyedOffset {
		var sgls uint32 = 1 // SGL supported
		sgls |= 1 << 2      // keyed SGL data block supported
		sgls |= 1 << 20     // SGL address may be an offset
		binary.LittleEndian.PutUint32(data[ctrlrOffSGLS:ctrlrOffSGLS+4], sgls)
	}
	return nil
}

func identifyActiveNSList(sub subsystem.Subsystem, afterNSID uint32, data []byte) *status.Status {
	var ids []uint32
	sub.IterateNamespaces(func(ns subsystem.Namespace) bool {
		if ns.NSID() > afterNSID {
			ids = append(ids, ns.NSID())
		}
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > 1024 {
		ids = ids[:1024]
	}
	for i, id := range ids {
		off := i * 4
		if off+4 > len(data) {
			break
		}
		binary.LittleEndian.PutUint32(data[off:off+4], id)
	}
	return nil
}

// NS descriptor types for CNS=3.
const (
	nsDescTypeEUI64 uint8 = 0x1
	nsDescTypeNGUID uint8 = 0x2
	nsDescTypeUUID  uint8 = 0x3
)

func identifyNSDescriptors(sub subsystem.Subsystem, nsid uint32, data []byte) *status.Status {
	ns, ok := sub.FindNamespace(nsid)
	if !ok {
		return status.InvalidNamespace
	}
	off := 0
	off = appendNSDesc(data, off, nsDescTypeEUI64, ns.EUI64()[:])
	off = appendNSDesc(data, off, nsDescTypeNGUID, ns.NGUID()[:])
	appendNSDesc(data, off, nsDescTypeUUID, ns.UUID()[:])
	return nil
}

func appendNSDesc(data []byte, off int, typ uint8, value []byte) int {
	if off+4+len(value) > len(data) {
		return off
	}
	data[off] = typ
	data[off+1] = uint8(len(value))
	copy(data[off+4:off+4+len(value)], value)
	return off + 4 + len(value)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s[:n]
	}
	b := make([]byte, n)
	copy(b, s)
	for i := len(s); i < n; i++ {
		b[i] = ' '
	}
	return string(b)
}
