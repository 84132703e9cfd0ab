package admin

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// DispatchOptions carries the controller-wide, mostly-static values the
// individual handlers need beyond the command/controller/subsystem
// themselves.
type DispatchOptions struct {
	Identify IdentifyOptions
	Abort    AbortHook
	Now      time.Time
}

// Dispatch routes a decoded admin-qpair command to its handler. cdw0 is the
// completion's DW0 (meaningful for Get Features, Abort, and a satisfied
// Async Event Request); aerPending reports that cmd was an Async Event
// Request that must stay outstanding rather than complete now.
func Dispatch(c *ctrlr.Controller, sub subsystem.Subsystem, cmd nvme.Command, data []byte, opts DispatchOptions) (cdw0 uint32, st *status.Status, aerPending bool) {
	switch cmd.Opcode {
	case nvme.OpcodeIdentify:
		st = Identify(c, sub, cmd, data, opts.Identify)
	case nvme.OpcodeGetLogPage:
		st = GetLogPage(c, sub, cmd, data)
	case nvme.OpcodeGetFeatures:
		cdw0, st = GetFeatures(c, cmd, data)
	case nvme.OpcodeSetFeatures:
		st = SetFeatures(c, cmd, data)
	case nvme.OpcodeAbort:
		cdw0, st = Abort(c, cmd, opts.Abort)
	case nvme.OpcodeAsyncEventReq:
		var complete bool
		cdw0, complete, st = SubmitAsyncEventRequest(c, cmd.CID)
		aerPending = st == nil && !complete
	case nvme.OpcodeKeepAlive:
		c.NoteKeepAlive(opts.Now)
	default:
		st = status.InvalidOpcode
	}
	if cmd.Opcode != nvme.OpcodeKeepAlive {
		c.NoteKeepAlive(opts.Now)
	}
	return cdw0, st, aerPending
}
