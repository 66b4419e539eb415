package gateway

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/bondus/cansaurus-gatewayd/internal/can"
	"github.com/bondus/cansaurus-gatewayd/internal/gatewayerr"
	"github.com/bondus/cansaurus-gatewayd/internal/metrics"
	"github.com/bondus/cansaurus-gatewayd/internal/protocol"
	"github.com/bondus/cansaurus-gatewayd/internal/socketcan"
	"github.com/bondus/cansaurus-gatewayd/internal/vport"
)

// pollOnce waits for readiness on the bus, every port's PTY master, and
// the watch fd, then services whichever are ready. The mutex is held
// only while servicing results, never while blocked in Poll, so a
// concurrent Shutdown or liveness tick is never starved by a slow
// remote.
func (g *Gateway) pollOnce() error {
	g.mu.Lock()
	fds := g.buildPollSet()
	g.mu.Unlock()

	n, err := unix.Poll(fds, int(g.pollTimeout.Milliseconds()))
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return fmt.Errorf("%w: poll: %v", gatewayerr.ErrBusConfig, err)
	}
	if n == 0 {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if fds[0].Revents&unix.POLLIN != 0 {
		g.serviceBusLocked()
	}
	for i := 1; i < len(fds); i++ {
		if fds[i].Revents&unix.POLLIN == 0 {
			continue
		}
		if int(fds[i].Fd) == g.watch.FD() {
			g.serviceWatchLocked()
			continue
		}
		g.servicePortFDLocked(int(fds[i].Fd))
	}
	return nil
}

// buildPollSet snapshots the current fd set: slot 0 is the bus, then
// one entry per real port's PTY master, then the watch fd last.
func (g *Gateway) buildPollSet() []unix.PollFd {
	ports := g.table.Ports()
	fds := make([]unix.PollFd, 0, 2+len(ports))
	fds = append(fds, unix.PollFd{Fd: int32(g.bus.FD()), Events: unix.POLLIN})
	for _, e := range ports {
		fds = append(fds, unix.PollFd{Fd: int32(e.FD()), Events: unix.POLLIN})
	}
	fds = append(fds, unix.PollFd{Fd: int32(g.watch.FD()), Events: unix.POLLIN})
	return fds
}

// serviceBusLocked drains one frame from the bus and dispatches it:
// UUID responses drive discovery, everything else is routed to the
// node whose control-channel id is one more than the frame's can_id
// (the remote transmits on can_id-1 relative to its own ctl_id; see
// DESIGN.md's Open Questions for why the table stores ctl_id and the
// match carries the +1/-1 offset).
func (g *Gateway) serviceBusLocked() {
	fr, err := g.bus.Recv()
	if err != nil {
		if errors.Is(err, socketcan.ErrTimeout) {
			return
		}
		metrics.IncError(metrics.ErrOther)
		g.logger.Warn("bus_recv_error", "error", err)
		return
	}
	metrics.IncBusRx()

	if fr.ID == protocol.UUIDRespID {
		g.handleDiscoveryLocked(fr)
		return
	}

	_, e, ok := g.table.FindByCANID(fr.ID + 1)
	if !ok {
		// Unknown transmitter: solicit the address it would be
		// addressed at if it were a known node, to recover a lost
		// handshake.
		g.soliciteTargetedLocked(protocol.TxID(fr.ID))
		return
	}
	e.PingCredit = protocol.PingsBeforeDisconnect
	if !e.Attached || fr.Len == 0 {
		return
	}
	n, err := e.MasterFD.Write(fr.Payload())
	if err != nil {
		metrics.IncError(metrics.ErrOther)
		g.logger.Debug("pty_write_error", "port", e.PortNumber, "error", err)
		return
	}
	metrics.AddPTYTx(n)
}

// handleDiscoveryLocked processes a UUID_RESP frame: reuse the port if
// its derived number already exists (a device reset), otherwise
// allocate one. Either way it replies with a SET frame so the remote
// learns its assigned ctl_id.
func (g *Gateway) handleDiscoveryLocked(fr can.Frame) {
	if fr.Len < 6 {
		metrics.IncMalformed()
		return
	}
	var uuid [6]byte
	copy(uuid[:], fr.Payload()[:6])
	pn := vport.DerivePortNumber(uuid)

	if _, e, ok := g.table.FindByPortNumber(pn); ok {
		e.UUID = uuid
		e.PingCredit = protocol.PingsBeforeDisconnect
		g.logger.Info("port_reset", "port", pn)
		g.sendSetLocked(e.CANID, uuid)
		return
	}
	e, err := g.openPort(uuid)
	if err != nil {
		metrics.IncError(gatewayerr.MetricLabel(err))
		g.logger.Error("open_port_failed", "error", err)
		return
	}
	g.sendSetLocked(e.CANID, uuid)
}

// sendSetLocked transmits the id-assignment acknowledgement.
func (g *Gateway) sendSetLocked(ctlID uint32, uuid [6]byte) {
	if err := g.bus.Send(protocol.SetID, protocol.PackSet(ctlID, uuid)); err != nil {
		g.logger.Debug("set_send_error", "error", err)
	}
}

// servicePortFDLocked reads bytes the host wrote into a port's PTY
// master and forwards them to the bus. A 0x7E byte anywhere in the
// chunk marks the node attached (the host-side open side channel); the
// whole chunk, 0x7E bytes included, is forwarded verbatim as CAN
// payloads of at most 8 bytes each.
func (g *Gateway) servicePortFDLocked(fd int) {
	_, e, ok := findByFD(g.table, fd)
	if !ok {
		return
	}
	var buf [readChunkSize]byte
	n, err := e.MasterFD.Read(buf[:])
	if err != nil {
		return
	}
	if n == 0 {
		return
	}
	metrics.AddPTYRx(n)
	for _, b := range buf[:n] {
		if b == 0x7E {
			e.Attached = true
		}
	}
	for off := 0; off < n; off += can.MaxPayload {
		end := off + can.MaxPayload
		if end > n {
			end = n
		}
		if err := g.bus.Send(e.CANID, buf[off:end]); err != nil {
			metrics.IncError(gatewayerr.MetricLabel(fmt.Errorf("%w: %v", gatewayerr.ErrBusSend, err)))
			g.logger.Debug("bus_send_error", "port", e.PortNumber, "error", err)
			return
		}
		metrics.IncBusTx()
	}
}

// serviceWatchLocked drains pending inotify events: an open marks the
// node attached and re-solicits it so it announces itself promptly; a
// close marks it detached.
func (g *Gateway) serviceWatchLocked() {
	events, err := g.watch.Drain()
	if err != nil {
		g.logger.Warn("watch_drain_error", "error", err)
		return
	}
	for _, ev := range events {
		_, e, ok := g.table.FindByWatchHandle(ev.Handle)
		if !ok {
			continue
		}
		switch {
		case ev.IsOpen():
			e.Attached = true
			g.soliciteTargetedLocked(e.CANID)
		case ev.IsClose():
			e.Attached = false
		}
	}
}

// soliciteBroadcastLocked emits an untargeted UUID solicit (empty
// payload), used only by the liveness driver's first tick.
func (g *Gateway) soliciteBroadcastLocked() {
	if err := g.bus.Send(protocol.UUIDFilter, nil); err != nil {
		g.logger.Debug("solicit_send_error", "error", err)
		return
	}
	metrics.IncDiscoverySolicit()
}

// soliciteTargetedLocked emits a UUID solicit carrying a 2-byte target
// id, so only the node that recognizes targetID as its own responds.
func (g *Gateway) soliciteTargetedLocked(targetID uint32) {
	if err := g.bus.Send(protocol.UUIDFilter, protocol.SolicitPayload(targetID)); err != nil {
		g.logger.Debug("solicit_send_error", "error", err)
		return
	}
	metrics.IncDiscoverySolicit()
}

func findByFD(t *vport.Table, fd int) (int, *vport.Entry, bool) {
	for i, e := range t.Ports() {
		if e.FD() == fd {
			return i + 1, e, true
		}
	}
	return 0, nil, false
}
