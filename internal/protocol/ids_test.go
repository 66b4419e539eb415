package protocol

import "testing"

func TestCtlID(t *testing.T) {
	cases := []struct {
		port uint16
		want uint32
	}{
		{0, CTLFilterBase},
		{1, CTLFilterBase + 2},
		{10, CTLFilterBase + 20},
	}
	for _, c := range cases {
		if got := CtlID(c.port); got != c.want {
			t.Fatalf("CtlID(%d) = 0x%X, want 0x%X", c.port, got, c.want)
		}
	}
}

func TestTxID(t *testing.T) {
	if got := TxID(CTLFilterBase + 2); got != CTLFilterBase+1 {
		t.Fatalf("TxID = 0x%X, want 0x%X", got, CTLFilterBase+1)
	}
}

func TestCtlIDAlwaysEven(t *testing.T) {
	for pn := uint16(0); pn < 64; pn++ {
		if CtlID(pn)%2 != 0 {
			t.Fatalf("CtlID(%d) = 0x%X is odd", pn, CtlID(pn))
		}
	}
}

func TestSolicitPayloadRoundTrips(t *testing.T) {
	payload := SolicitPayload(CTLFilterBase + 20)
	if len(payload) != 2 {
		t.Fatalf("len(payload) = %d, want 2", len(payload))
	}
	got := uint32(payload[0]) | uint32(payload[1])<<8
	if got != CTLFilterBase+20 {
		t.Fatalf("decoded target = 0x%X, want 0x%X", got, CTLFilterBase+20)
	}
}

func TestPackSet(t *testing.T) {
	uuid := [6]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	buf := PackSet(CtlID(7), uuid)
	if len(buf) != 8 {
		t.Fatalf("len(buf) = %d, want 8", len(buf))
	}
	gotCtlID := uint32(buf[0]) | uint32(buf[1])<<8
	if gotCtlID != CtlID(7) {
		t.Fatalf("packed ctl_id = 0x%X, want 0x%X", gotCtlID, CtlID(7))
	}
	var gotUUID [6]byte
	copy(gotUUID[:], buf[2:])
	if gotUUID != uuid {
		t.Fatalf("packed uuid = %v, want %v", gotUUID, uuid)
	}
}
