// Package vport implements the port table: the registry of discovered
// remote nodes, each represented as a virtual serial port (a PTY pair)
// addressable by CAN id, port number, or filesystem-watch handle.
package vport

import "os"

// Kind distinguishes the slot-0 bus sentinel from real port entries.
type Kind int

const (
	// KindBus marks slot 0, whose file descriptor is the CAN bus
	// socket rather than a PTY master. Slot 0 is never a real port.
	KindBus Kind = iota
	KindPort
)

// Entry is one discovered remote node, or (for slot 0) the bus
// sentinel. See invariants in the table doc comment.
type Entry struct {
	Kind Kind

	// PortNumber identifies the logical endpoint; derived once from the
	// node's UUID and stable for the node's lifetime.
	PortNumber uint16

	// CANID is the node's ctl_id (even, = 2*PortNumber + CTLFilterBase).
	// The gateway sends the node's data and pings on CANID and routes
	// inbound frames whose id is CANID-1 to this entry.
	CANID uint32

	// UUID is the 6-byte identifier the node announced at discovery.
	// Used only for display and symlink naming.
	UUID [6]byte

	// MasterFD is the master side of the PTY pair for a port entry, or
	// the bus socket for slot 0. Always non-blocking.
	MasterFD *os.File

	// SymlinkPath is the deterministic path published for host clients,
	// e.g. "/tmp/ttyCAN0_010203040506". Empty for slot 0.
	SymlinkPath string

	// WatchHandle is the filesystem-watch descriptor keyed to
	// SymlinkPath. Zero for slot 0.
	WatchHandle int32

	// Attached is true iff a host client currently holds the slave side
	// open (or has sent the 0x7E side-channel signal).
	Attached bool

	// PingCredit counts down to zero; reset to protocol.PingsBeforeDisconnect
	// on any inbound frame from the node. Reaching zero reaps the port.
	PingCredit int
}

// FD returns the file descriptor the multiplexer polls for this entry.
func (e *Entry) FD() int {
	if e.MasterFD == nil {
		return -1
	}
	return int(e.MasterFD.Fd())
}
