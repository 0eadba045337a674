package sim

import (
	"bytes"
	"testing"

	"github.com/kabili207/lorastar-go/radio"
)

type recvCounter struct {
	n int
}

func (c *recvCounter) handler(int) { c.n++ }

func listen(t *testing.T, r *Radio) *recvCounter {
	t.Helper()
	c := &recvCounter{}
	r.SetReceiveHandler(c.handler)
	if err := r.SetReceiveMode(); err != nil {
		t.Fatal(err)
	}
	return c
}

func transmit(t *testing.T, r *Radio, data []byte) {
	t.Helper()
	if err := r.SetTransmitMode(); err != nil {
		t.Fatal(err)
	}
	if err := r.BeginFrame(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := r.EndFrame(false); err != nil {
		t.Fatal(err)
	}
}

func readPacket(r *Radio) []byte {
	n := r.ParsePacket()
	if n == 0 {
		return nil
	}
	out := make([]byte, 0, n)
	for r.Available() > 0 {
		b, err := r.ReadByte()
		if err != nil {
			break
		}
		out = append(out, b)
	}
	return out
}

func TestMedium_Broadcast(t *testing.T) {
	m := NewMedium(Config{})
	gw := m.NewRadio("gw")
	a, b := m.NewRadio("a"), m.NewRadio("b")
	ca, cb := listen(t, a), listen(t, b)

	transmit(t, gw, []byte{1, 2, 3})

	if ca.n != 1 || cb.n != 1 {
		t.Fatalf("receive interrupts a=%d b=%d, want 1 each", ca.n, cb.n)
	}
	for _, r := range []*Radio{a, b} {
		if got := readPacket(r); !bytes.Equal(got, []byte{1, 2, 3}) {
			t.Errorf("%s received % x", r.Name(), got)
		}
		if r.LastRSSI() != DefaultQuality.RSSI || r.LastSNR() != DefaultQuality.SNR {
			t.Errorf("%s quality = %d/%v", r.Name(), r.LastRSSI(), r.LastSNR())
		}
	}
	if got := readPacket(gw); got != nil {
		t.Error("sender must not hear its own packet")
	}
	if s := m.Stats(); s.Transmitted != 1 || s.Delivered != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMedium_TxDoneFiresAfterDelivery(t *testing.T) {
	m := NewMedium(Config{})
	gw, node := m.NewRadio("gw"), m.NewRadio("node")
	listen(t, node)

	done := 0
	gw.SetTxDoneHandler(func() {
		done++
		if node.Available() != 0 || len(node.rx) != 1 {
			t.Error("packet should be queued at the receiver before tx-done")
		}
	})
	transmit(t, gw, []byte{9})
	if done != 1 {
		t.Errorf("tx-done fired %d times, want 1", done)
	}
	if gw.Mode() != ModeStandby {
		t.Errorf("sender mode = %v, want standby until re-armed", gw.Mode())
	}
	if len(gw.Sent()) != 1 {
		t.Errorf("Sent() = %d packets, want 1", len(gw.Sent()))
	}
}

func TestMedium_NotListening(t *testing.T) {
	m := NewMedium(Config{})
	gw, node := m.NewRadio("gw"), m.NewRadio("node")
	// node never enters receive mode
	transmit(t, gw, []byte{1})
	if node.ParsePacket() != 0 {
		t.Error("radio in standby should not receive")
	}
	if s := m.Stats(); s.Missed != 1 {
		t.Errorf("Missed = %d, want 1", s.Missed)
	}
}

func TestMedium_ChannelMismatch(t *testing.T) {
	m := NewMedium(Config{})
	gw, node := m.NewRadio("gw"), m.NewRadio("node")
	listen(t, node)
	if err := node.Configure(radio.DefaultParams().WithModulation(125000, 5, 12)); err != nil {
		t.Fatal(err)
	}
	transmit(t, gw, []byte{1})
	if node.ParsePacket() != 0 {
		t.Error("radios on different spreading factors should not hear each other")
	}
}

func TestMedium_Filters(t *testing.T) {
	m := NewMedium(Config{Filter: OneWay("gw", "a")})
	gw, a, b := m.NewRadio("gw"), m.NewRadio("a"), m.NewRadio("b")
	listen(t, gw)
	listen(t, a)
	listen(t, b)

	transmit(t, gw, []byte{1})
	if a.ParsePacket() != 0 {
		t.Error("one-way filter should drop gw->a")
	}
	if b.ParsePacket() == 0 {
		t.Error("gw->b should be delivered")
	}
	transmit(t, a, []byte{2})
	if gw.ParsePacket() == 0 {
		t.Error("a->gw should be delivered")
	}

	m.SetFilter(Partition("gw", "b"))
	transmit(t, b, []byte{3})
	if gw.ParsePacket() != 0 {
		t.Error("partition should drop b->gw")
	}
	if a.ParsePacket() == 0 {
		t.Error("b->a should be delivered")
	}
}

func TestMedium_Quality(t *testing.T) {
	m := NewMedium(Config{})
	gw, node := m.NewRadio("gw"), m.NewRadio("node")
	listen(t, gw)
	m.SetQuality("node", "gw", Quality{RSSI: -118, SNR: -4.5})

	transmit(t, node, []byte{1})
	gw.ParsePacket()
	if gw.LastRSSI() != -118 || gw.LastSNR() != -4.5 {
		t.Errorf("quality = %d/%v", gw.LastRSSI(), gw.LastSNR())
	}
}

func TestMedium_Overflow(t *testing.T) {
	m := NewMedium(Config{})
	gw, node := m.NewRadio("gw"), m.NewRadio("node")
	listen(t, node)
	for i := 0; i < RxQueueSize+3; i++ {
		transmit(t, gw, []byte{byte(i)})
	}
	if s := m.Stats(); s.Overflowed != 3 {
		t.Errorf("Overflowed = %d, want 3", s.Overflowed)
	}
	if got := readPacket(node); got[0] != 0 {
		t.Errorf("oldest packet should be kept, got % x", got)
	}
}

func TestLossRate(t *testing.T) {
	never := LossRate(0, 1)
	always := LossRate(1, 1)
	for i := 0; i < 100; i++ {
		if !never("a", "b", nil) {
			t.Fatal("zero loss rate dropped a packet")
		}
		if always("a", "b", nil) {
			t.Fatal("full loss rate delivered a packet")
		}
	}

	f := LossRate(0.5, 42)
	g := LossRate(0.5, 42)
	for i := 0; i < 50; i++ {
		if f("a", "b", nil) != g("a", "b", nil) {
			t.Fatal("same seed should produce the same loss pattern")
		}
	}
}

func TestRadio_WriteWithoutBegin(t *testing.T) {
	r := NewMedium(Config{}).NewRadio("x")
	if _, err := r.Write([]byte{1}); err != radio.ErrNotReady {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
	if err := r.EndFrame(true); err != radio.ErrNotReady {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
	_ = r.BeginFrame()
	if _, err := r.Write(make([]byte, radio.MaxPacketSize+1)); err != radio.ErrTooLarge {
		t.Errorf("error = %v, want ErrTooLarge", err)
	}
}
