package admin

import (
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/status"
)

// SubmitAsyncEventRequest implements the Async Event Request admin command,
// §4.4/§4.5. Unlike every other admin command, it does not necessarily
// complete at dispatch time: when complete is false and rejected is nil,
// the caller must leave the request outstanding until a later
// Controller.QueueAsyncEvent call reports its CID ready to complete.
func SubmitAsyncEventRequest(c *ctrlr.Controller, cid uint16) (cdw0 uint32, complete bool, rejected *status.Status) {
	ev, ok, rejected := c.SubmitAER(cid)
	if rejected != nil {
		return 0, false, rejected
	}
	if ok {
		return ev.CDW0, true, nil
	}
	return 0, false, nil
}
