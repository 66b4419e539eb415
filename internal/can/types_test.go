package can

import "testing"

func TestWithPayloadTruncates(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	fr := WithPayload(0x123, data)
	if fr.Len != MaxPayload {
		t.Fatalf("Len = %d, want %d", fr.Len, MaxPayload)
	}
	if got := fr.Payload(); len(got) != MaxPayload {
		t.Fatalf("Payload() len = %d, want %d", len(got), MaxPayload)
	}
	for i := 0; i < MaxPayload; i++ {
		if fr.Data[i] != data[i] {
			t.Fatalf("Data[%d] = %d, want %d", i, fr.Data[i], data[i])
		}
	}
}

func TestWithPayloadShort(t *testing.T) {
	fr := WithPayload(0x7E0, []byte{0xAA, 0xBB})
	if fr.Len != 2 {
		t.Fatalf("Len = %d, want 2", fr.Len)
	}
	if fr.ID != 0x7E0 {
		t.Fatalf("ID = 0x%X, want 0x7E0", fr.ID)
	}
	if len(fr.Payload()) != 2 || fr.Payload()[0] != 0xAA || fr.Payload()[1] != 0xBB {
		t.Fatalf("Payload() = %v", fr.Payload())
	}
}

func TestCopyShallowIndependentBacking(t *testing.T) {
	fr := WithPayload(1, []byte{9})
	cp := fr.CopyShallow()
	cp.Data[0] = 0xFF
	if fr.Data[0] == 0xFF {
		t.Fatalf("mutating copy affected original")
	}
}
