// Package protocol names the CAN identifiers and filter rules the
// gateway's discovery and control channels use. The bit-level values
// are a deployment policy, not a wire standard; they are fixed here so
// the rest of the gateway can treat them as constants.
package protocol

import "encoding/binary"

const (
	// UUIDFilter is the discovery channel's base identifier. An
	// outbound solicit (UUID) is sent with this exact id; an inbound
	// response (UUIDResp) arrives on UUIDFilter+1. UUIDMask leaves only
	// the low bit free so one SocketCAN filter rule catches both.
	UUIDFilter = 0x7E0
	UUIDMask   = 0x7FE
	UUIDRespID = UUIDFilter + 1

	// SetID is the outbound id-assignment acknowledgement the gateway
	// transmits after a node is discovered or reset, carrying the
	// node's assigned ctl_id and uuid. Only remotes listen for it. It
	// is not matched by the discovery filter rule; being even, it does
	// pass the control-channel rule.
	SetID = UUIDFilter + 2

	// CTLFilterBase is added to 2*port_number to produce a remote
	// node's control-channel transmit id (always even). CTLMask
	// compares only the low bit, so the one filter rule accepts every
	// even identifier, and with it every ctl_id regardless of port
	// number.
	CTLFilterBase = 0x100
	CTLMask       = 0x001

	// PingsBeforeDisconnect bounds PingCredit; it is reset to this
	// value on any inbound frame from a node and decremented each time
	// the liveness driver's cursor reaches the node otherwise.
	PingsBeforeDisconnect = 8
)

// CtlID returns the identifier a remote node with the given port number
// transmits its control-channel frames on.
func CtlID(portNumber uint16) uint32 {
	return uint32(2*portNumber) + CTLFilterBase
}

// TxID returns the identifier the gateway must use to address the node
// that owns ctlID.
func TxID(ctlID uint32) uint32 {
	return ctlID - 1
}

// SolicitPayload packs a UUID discovery solicit's optional 2-byte
// target id. The CAN frame id is always UUIDFilter; this payload is
// how a specific node recognizes a solicit meant for it rather than a
// broadcast.
func SolicitPayload(targetID uint32) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(targetID))
	return buf[:]
}

// PackSet builds the SET payload: a 2-byte ctl_id followed by the
// 6-byte uuid, packed with no padding.
func PackSet(ctlID uint32, uuid [6]byte) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(ctlID))
	copy(buf[2:], uuid[:])
	return buf[:]
}
