package icmp

import "testing"

func TestEchoReply(t *testing.T) {
	buf := make([]byte, 16)
	f, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	f.SetType(TypeEcho)
	f.SetIdentifier(1234)
	f.SetSequenceNumber(1)
	copy(f.Data(), "ping1234")
	f.SetCRC(f.CalculateCRC())

	wantID, wantSeq := f.Identifier(), f.SequenceNumber()
	wantData := append([]byte(nil), f.Data()...)

	if err := BuildReply(f); err != nil {
		t.Fatal(err)
	}
	if f.Type() != TypeEchoReply {
		t.Errorf("want echo-reply, got %s", f.Type())
	}
	if f.Identifier() != wantID || f.SequenceNumber() != wantSeq {
		t.Error("identifier/sequence number changed across reply")
	}
	if string(f.Data()) != string(wantData) {
		t.Error("echo payload changed across reply")
	}
	gotCRC := f.CRC()
	f.SetCRC(0)
	if want := f.CalculateCRC(); want != gotCRC {
		t.Errorf("reply checksum %#x does not match recomputed %#x", gotCRC, want)
	}
	f.SetCRC(gotCRC)
}
