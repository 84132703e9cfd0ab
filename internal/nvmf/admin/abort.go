package admin

import (
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/nvme"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
)

// AbortHook lets the transport offer a poll-group-scoped command for
// cancellation; it reports whether sqid/cid was found in flight and
// actually aborted. Dispatch never calls it for the admin qpair's own
// queued AER commands, which are cancelled through Controller.AbortAER
// instead.
type AbortHook func(sqid, cid uint16) bool

// Abort implements the Abort admin command, §4.5. The completion's CDW0
// bit 0 is 0 when the targeted command was found and aborted, 1 otherwise;
// Abort itself always succeeds at the status-code level, even when nothing
// was aborted.
func Abort(c *ctrlr.Controller, cmd nvme.Command, hook AbortHook) (cdw0 uint32, st *status.Status) {
	sqid := uint16(cmd.CDW10)
	cid := uint16(cmd.CDW10 >> 16)

	if sqid == 0 && c.AbortAER(cid) {
		return 0, nil
	}
	if hook != nil && hook(sqid, cid) {
		return 0, nil
	}
	return 1, nil
}
