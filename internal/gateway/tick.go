package gateway

import (
	"github.com/bondus/cansaurus-gatewayd/internal/metrics"
)

// tickLocked drives liveness once per period. On its very first call it
// broadcasts a solicit so any node already on the bus announces itself
// without waiting for a natural frame; thereafter it walks the port
// table one entry per tick (the cursor), decrementing PingCredit and
// only transmitting a targeted ping when the port is close to timing
// out, so a healthy bus stays quiet.
func (g *Gateway) tickLocked() {
	if g.firstTick {
		g.firstTick = false
		g.soliciteBroadcastLocked()
		return
	}

	ports := g.table.Ports()
	if len(ports) == 0 {
		g.pingCursor = 0
		return
	}
	if g.pingCursor >= len(ports) {
		g.pingCursor = 0
	}
	idx := g.pingCursor + 1 // +1 for the slot-0 offset RemoveAt expects
	e := ports[g.pingCursor]

	if e.PingCredit == 0 {
		g.logger.Info("port_reaped", "port", e.PortNumber)
		g.closePort(idx)
		metrics.IncPortsReaped()
		// Do not advance the cursor: RemoveAt shifted the next entry
		// into this slot.
		return
	}
	e.PingCredit--
	if e.PingCredit < 2 {
		if err := g.bus.Send(e.CANID, nil); err != nil {
			g.logger.Debug("ping_send_error", "port", e.PortNumber, "error", err)
		}
	}
	g.pingCursor++
}
