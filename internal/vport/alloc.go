package vport

import (
	"encoding/hex"
	"hash/fnv"

	"github.com/bondus/cansaurus-gatewayd/internal/protocol"
)

// MaxPorts bounds the derived port-number space. A fixed bound keeps
// CAN identifiers (2*PortNumber + CTLFilterBase, at most 0x4FE) within
// the 11-bit standard frame range and below the discovery channel.
const MaxPorts = 1 << 9

// DerivePortNumber is a pure, deterministic function of a node's UUID.
// Two different UUIDs may still collide (the space is intentionally
// smaller than the UUID space); re-discovery of an existing port number
// is handled by the gateway as a device reset, which is the documented
// behavior for a collision as much as for a genuine reconnect.
func DerivePortNumber(uuid [6]byte) uint16 {
	h := fnv.New32a()
	_, _ = h.Write(uuid[:])
	return uint16(h.Sum32() % MaxPorts)
}

// CANID returns the identifier a node at this port number transmits its
// control-channel frames on.
func CANID(portNumber uint16) uint32 { return protocol.CtlID(portNumber) }

// SymlinkPath returns the deterministic path published for a node's
// PTY: /<root>/ttyCAN0_<12 lowercase hex digits of uuid>.
func SymlinkPath(root string, uuid [6]byte) string {
	return root + "/ttyCAN0_" + hex.EncodeToString(uuid[:])
}
