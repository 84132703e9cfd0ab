package transport

import (
	"time"

	"github.com/nvmftcpd/nvmftcpd/internal/log"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/ctrlr"
	"github.com/nvmftcpd/nvmftcpd/internal/nvmf/subsystem"
)

// ccTimeoutPoller bounds a CC-driven reset or shutdown to 10s, §4.4. It runs
// as a standalone timer goroutine and never touches controller state
// directly; armShutdown already clears CC/CSTS (reset) or sets CSTS.SHST to
// complete (shutdown) synchronously under postFunc, so in the common case
// this fires after the reset or shutdown has long since completed and is a
// no-op. It only does real work when OnDisconnectQpairs is slow to
// fan out (many poll groups, a stalled qpair teardown), in which case it
// force-latches CSTS.CFS so the host sees the controller as failed rather
// than hanging indefinitely on a CSTS.RDY/SHST poll.
func (pg *PollGroup) armCCTimeoutPoller(c *ctrlr.Controller, stopCh <-chan struct{}) {
	d := time.Duration(pg.tr.opts.CCTimeoutSec) * time.Second
	if d <= 0 {
		d = 10 * time.Second
	}
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-stopCh:
			return
		case <-timer.C:
			pg.Post(func() {
				resetPending := !c.Registers.CCEnabled() && c.Registers.CSTSReady()
				shutdownPending := c.Registers.CCShn() != ctrlr.ShnNone && c.Registers.CSTSShst() != ctrlr.ShstComplete
				if !resetPending && !shutdownPending {
					return
				}
				log.Warn("controller cc-timeout poller fired", "cntlid", c.CNTLID)
				c.Registers.CSTS |= 1 << 1 // CSTS.CFS
			})
		}
	}()
}

// armAssociationTimer keeps a controller registered in sub for the
// association timeout (2 minutes by default) after its admin qpair is torn
// down, whatever CC's state was at that moment; a CC change on its own does
// not arm it. During that window an I/O Connect naming the cntlid can still
// find the controller, while an admin Connect always creates a new one. If
// no qpair references the controller when the timer fires, it is
// unregistered from sub and forgotten.
func (pg *PollGroup) armAssociationTimer(c *ctrlr.Controller, sub subsystem.Subsystem, stopCh <-chan struct{}) {
	d := time.Duration(pg.tr.opts.AssociationTimeoutSec) * time.Second
	if d <= 0 {
		d = 2 * time.Minute
	}
	timer := time.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-stopCh:
			return
		case <-timer.C:
			pg.Post(func() {
				if c.ActiveQpairCount() > 0 {
					return
				}
				log.Debug("association timer expired, dropping controller", "cntlid", c.CNTLID)
				sub.RemoveController(c.CNTLID)
				pg.tr.forgetControllerHome(c)
			})
		}
	}()
}
