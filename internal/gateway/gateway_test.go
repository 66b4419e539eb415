package gateway

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bondus/cansaurus-gatewayd/internal/can"
	"github.com/bondus/cansaurus-gatewayd/internal/protocol"
	"github.com/bondus/cansaurus-gatewayd/internal/socketcan"
)

// fakeBus is a loopback CAN transport backed by a datagram socketpair, so
// each Send/Recv maps to exactly one message the way a real CAN socket's
// one-frame-per-read/write semantics do. The peer half lets the test
// inject inbound frames and observe outbound ones without a real bus.
type fakeBus struct {
	fd int
}

func newFakeBusPair(t *testing.T) (*fakeBus, *os.File) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	t.Cleanup(func() { _ = unix.Close(fds[0]) })
	peer := os.NewFile(uintptr(fds[1]), "peer")
	t.Cleanup(func() { _ = peer.Close() })
	return &fakeBus{fd: fds[0]}, peer
}

func (b *fakeBus) FD() int { return b.fd }

func (b *fakeBus) Recv() (can.Frame, error) {
	var buf [unix.CAN_MTU]byte
	n, err := unix.Read(b.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return can.Frame{}, socketcan.ErrTimeout
		}
		return can.Frame{}, err
	}
	if n != unix.CAN_MTU {
		return can.Frame{}, nil
	}
	return decodeWireFrame(buf[:])
}

func (b *fakeBus) Send(id uint32, payload []byte) error {
	_, err := unix.Write(b.fd, encodeWireFrame(id, payload))
	return err
}

func (b *fakeBus) Close() error { return unix.Close(b.fd) }

func encodeWireFrame(id uint32, payload []byte) []byte {
	var buf [unix.CAN_MTU]byte
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(payload))
	copy(buf[8:], payload)
	return buf[:]
}

func decodeWireFrame(buf []byte) (can.Frame, error) {
	var fr can.Frame
	fr.ID = binary.LittleEndian.Uint32(buf[0:4])
	dlc := int(buf[4])
	if dlc > can.MaxPayload {
		dlc = can.MaxPayload
	}
	fr.Len = uint8(dlc)
	copy(fr.Data[:], buf[8:8+dlc])
	return fr, nil
}

func writeFrame(t *testing.T, peer *os.File, id uint32, payload []byte) {
	t.Helper()
	if _, err := peer.Write(encodeWireFrame(id, payload)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
}

func readFrame(t *testing.T, peer *os.File) can.Frame {
	t.Helper()
	_ = peer.SetReadDeadline(time.Now().Add(time.Second))
	var buf [unix.CAN_MTU]byte
	n, err := peer.Read(buf[:])
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if n != unix.CAN_MTU {
		t.Fatalf("peer read short frame: %d bytes", n)
	}
	fr, _ := decodeWireFrame(buf[:])
	return fr
}

func newTestGateway(t *testing.T) (*Gateway, *os.File) {
	t.Helper()
	bus, peer := newFakeBusPair(t)
	root := t.TempDir()
	gw, err := New(bus, WithSymlinkRoot(root), WithPollTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(gw.Shutdown)
	return gw, peer
}

var testUUID = [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

// expectSetFrame reads the next frame off peer and asserts it is the
// SET id-assignment acknowledgement for (ctlID, uuid).
func expectSetFrame(t *testing.T, peer *os.File, ctlID uint32, uuid [6]byte) {
	t.Helper()
	fr := readFrame(t, peer)
	if fr.ID != protocol.SetID {
		t.Fatalf("frame ID = 0x%X, want SET 0x%X", fr.ID, protocol.SetID)
	}
	want := protocol.PackSet(ctlID, uuid)
	if fr.Len != uint8(len(want)) {
		t.Fatalf("SET payload len = %d, want %d", fr.Len, len(want))
	}
	for i, b := range want {
		if fr.Data[i] != b {
			t.Fatalf("SET payload = %v, want %v", fr.Payload(), want)
		}
	}
}

// TestDiscoveryAllocatesPort exercises the discovery scenario: a
// UUID_RESP frame with no existing port number allocates a new entry,
// publishes its symlink, and replies with a SET frame assigning the
// node its ctl_id.
func TestDiscoveryAllocatesPort(t *testing.T) {
	gw, peer := newTestGateway(t)
	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])

	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if got := len(gw.table.Ports()); got != 1 {
		t.Fatalf("port count = %d, want 1", got)
	}
	e := gw.table.Ports()[0]
	if e.UUID != testUUID {
		t.Fatalf("entry UUID = %v, want %v", e.UUID, testUUID)
	}
	if _, err := os.Lstat(e.SymlinkPath); err != nil {
		t.Fatalf("symlink not published: %v", err)
	}
	if filepath.Dir(e.SymlinkPath) != gw.symlinkRoot {
		t.Fatalf("symlink path %q not under root %q", e.SymlinkPath, gw.symlinkRoot)
	}
	expectSetFrame(t, peer, e.CANID, testUUID)
}

// TestRediscoveryIsDeviceReset exercises re-announcing an already-known
// node: no second port is created, the existing entry's ping credit is
// refreshed, and the SET frame is re-transmitted.
func TestRediscoveryIsDeviceReset(t *testing.T) {
	gw, peer := newTestGateway(t)
	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	e := gw.table.Ports()[0]
	expectSetFrame(t, peer, e.CANID, testUUID)
	e.PingCredit = 1

	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	if got := len(gw.table.Ports()); got != 1 {
		t.Fatalf("port count = %d, want 1 after rediscovery", got)
	}
	if gw.table.Ports()[0].PingCredit != protocol.PingsBeforeDisconnect {
		t.Fatalf("PingCredit = %d, want reset to %d", gw.table.Ports()[0].PingCredit, protocol.PingsBeforeDisconnect)
	}
	expectSetFrame(t, peer, e.CANID, testUUID)
}

// openSlave opens the real pts device an entry's symlink points at, the
// way a host client would, so tests can drive the host side of a port
// without touching the gateway's own master fd.
func openSlave(t *testing.T, link string) *os.File {
	t.Helper()
	target, err := os.Readlink(link)
	if err != nil {
		t.Fatalf("readlink %s: %v", link, err)
	}
	fd, err := unix.Open(target, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("open slave %s: %v", target, err)
	}
	f := os.NewFile(uintptr(fd), target)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

// TestDownstreamDeliveryRequiresAttachment exercises bus -> host
// delivery: a frame from an unattached node's control channel is
// absorbed (credited) but not written to the PTY; once attached, the
// payload is forwarded to whatever has the slave open. Per the
// round-trip law in spec §8, a downstream frame is addressed at
// can_id[i] - 1 (the node's tx id), not can_id[i] itself.
func TestDownstreamDeliveryRequiresAttachment(t *testing.T) {
	gw, peer := newTestGateway(t)
	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	e := gw.table.Ports()[0]
	expectSetFrame(t, peer, e.CANID, testUUID)
	slave := openSlave(t, e.SymlinkPath)

	writeFrame(t, peer, protocol.TxID(e.CANID), []byte{0xDE, 0xAD})
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	// Not attached yet: no bytes should be waiting on the slave.
	_ = slave.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	var probe [4]byte
	if n, err := slave.Read(probe[:]); err == nil && n > 0 {
		t.Fatalf("unexpected bytes delivered to unattached port: %v", probe[:n])
	}

	e.Attached = true
	writeFrame(t, peer, protocol.TxID(e.CANID), []byte{0xDE, 0xAD})
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	_ = slave.SetReadDeadline(time.Now().Add(time.Second))
	var buf [4]byte
	n, err := slave.Read(buf[:])
	if err != nil {
		t.Fatalf("read slave: %v", err)
	}
	if n != 2 || buf[0] != 0xDE || buf[1] != 0xAD {
		t.Fatalf("forwarded payload = %v, want [DE AD]", buf[:n])
	}
}

// TestUpstreamDeliveryForwardsToBus exercises host -> bus delivery: a
// chunk written into the port's slave arrives on the bus addressed at
// the node's own ctl_id, per the spec §8 round-trip law.
func TestUpstreamDeliveryForwardsToBus(t *testing.T) {
	gw, peer := newTestGateway(t)
	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	e := gw.table.Ports()[0]
	expectSetFrame(t, peer, e.CANID, testUUID)
	slave := openSlave(t, e.SymlinkPath)
	// Service the open event first and clear the flag it sets, so the
	// attachment check below sees only the effect of the written bytes.
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	_ = readFrame(t, peer) // solicit sent on attach
	e.Attached = false

	if _, err := slave.Write([]byte{0x01, 0x02, 0x03}); err != nil {
		t.Fatalf("write slave: %v", err)
	}
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	fr := readFrame(t, peer)
	if fr.ID != e.CANID {
		t.Fatalf("frame ID = 0x%X, want ctl_id 0x%X", fr.ID, e.CANID)
	}
	if fr.Len != 3 || fr.Data[0] != 0x01 || fr.Data[1] != 0x02 || fr.Data[2] != 0x03 {
		t.Fatalf("unexpected forwarded frame: %+v", fr)
	}
	if e.Attached {
		t.Fatalf("writing bytes without 0x7E should not mark the port attached")
	}
}

// TestUnknownTransmitterSolicitsRecovery exercises the recovery path in
// serviceBusLocked: a control-channel frame that matches no known slot
// triggers a targeted solicit rather than being silently dropped.
func TestUnknownTransmitterSolicitsRecovery(t *testing.T) {
	gw, peer := newTestGateway(t)

	unknownTxID := protocol.TxID(protocol.CtlID(99))
	writeFrame(t, peer, unknownTxID, []byte{0x01})
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	fr := readFrame(t, peer)
	if fr.ID != protocol.UUIDFilter {
		t.Fatalf("expected a recovery solicit, got frame ID 0x%X", fr.ID)
	}
	want := protocol.SolicitPayload(protocol.TxID(unknownTxID))
	if fr.Len != uint8(len(want)) || fr.Data[0] != want[0] || fr.Data[1] != want[1] {
		t.Fatalf("recovery solicit payload = %v, want targeted at 0x%X", fr.Payload(), protocol.TxID(unknownTxID))
	}
}

// TestSnapshotReflectsActivePorts exercises the Snapshot accessor's
// count of active ports.
func TestSnapshotReflectsActivePorts(t *testing.T) {
	gw, peer := newTestGateway(t)
	if got := gw.Snapshot().ActivePorts; got != 0 {
		t.Fatalf("ActivePorts = %d, want 0 before discovery", got)
	}

	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if got := gw.Snapshot().ActivePorts; got != 1 {
		t.Fatalf("ActivePorts = %d, want 1 after discovery", got)
	}
}

// TestHostAttachSolicitsOverWatch exercises the attach scenario: a real
// inotify open event on the port's symlink marks it attached and
// triggers a solicit targeted at the node's ctl_id (spec §8 scenario 2
// and §6's 2-byte target payload), without any bus traffic driving it
// directly.
func TestHostAttachSolicitsOverWatch(t *testing.T) {
	gw, peer := newTestGateway(t)
	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	e := gw.table.Ports()[0]
	expectSetFrame(t, peer, e.CANID, testUUID)
	if e.Attached {
		t.Fatalf("port should not be attached before the host opens it")
	}

	openSlave(t, e.SymlinkPath)

	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	if !gw.table.Ports()[0].Attached {
		t.Fatalf("expected open event to mark the port attached")
	}

	fr := readFrame(t, peer)
	if fr.ID != protocol.UUIDFilter {
		t.Fatalf("expected a solicit after attach, got frame ID 0x%X", fr.ID)
	}
	want := protocol.SolicitPayload(e.CANID)
	if fr.Len != uint8(len(want)) || fr.Data[0] != want[0] || fr.Data[1] != want[1] {
		t.Fatalf("solicit payload = %v, want targeted at ctl_id 0x%X", fr.Payload(), e.CANID)
	}
}

// TestLivenessReapsTimedOutPort exercises the timeout-reap scenario:
// repeated ticks with no traffic exhaust a port's ping credit and
// remove it, reclaiming its symlink.
func TestLivenessReapsTimedOutPort(t *testing.T) {
	gw, peer := newTestGateway(t)
	writeFrame(t, peer, protocol.UUIDRespID, testUUID[:])
	if err := gw.pollOnce(); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}
	e := gw.table.Ports()[0]
	link := e.SymlinkPath

	gw.firstTick = false
	for i := 0; i < protocol.PingsBeforeDisconnect+1; i++ {
		gw.mu.Lock()
		gw.tickLocked()
		gw.mu.Unlock()
	}

	if got := len(gw.table.Ports()); got != 0 {
		t.Fatalf("port count = %d, want 0 after reap", got)
	}
	if _, err := os.Lstat(link); !os.IsNotExist(err) {
		t.Fatalf("expected symlink %q removed, stat err = %v", link, err)
	}
}

// TestFirstTickBroadcastsSolicit exercises the liveness driver's first
// call: it solicits rather than pinging an existing entry.
func TestFirstTickBroadcastsSolicit(t *testing.T) {
	gw, peer := newTestGateway(t)
	gw.mu.Lock()
	gw.tickLocked()
	gw.mu.Unlock()

	fr := readFrame(t, peer)
	if fr.ID != protocol.UUIDFilter {
		t.Fatalf("first tick frame ID = 0x%X, want solicit 0x%X", fr.ID, protocol.UUIDFilter)
	}
}
