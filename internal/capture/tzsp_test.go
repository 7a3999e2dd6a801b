package capture

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	gameServer = net.IPv4(51, 89, 3, 7).To4()
	localHost  = net.IPv4(192, 168, 1, 20).To4()
)

func tzspHeader(tags ...byte) []byte {
	h := []byte{1, 0, 0, tzspEthernet}
	h = append(h, tags...)
	return append(h, tzspTagEnd)
}

func ether(t *testing.T, ip *layers.IPv4, payload gopacket.SerializableLayer, extra ...gopacket.SerializableLayer) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	ls := append([]gopacket.SerializableLayer{eth, ip, payload}, extra...)
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func udpFrame(t *testing.T, src, dst net.IP, sport, dport int, data []byte) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: src, DstIP: dst}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	return append(tzspHeader(), ether(t, ip, udp, gopacket.Payload(data))...)
}

func TestStripTZSP(t *testing.T) {
	frame := append(tzspHeader(tzspTagPadding, 0x0a, 1, 0x7f), 0xee)
	eth, err := StripTZSP(frame)
	if err != nil {
		t.Fatalf("strip: %v", err)
	}
	if !bytes.Equal(eth, []byte{0xee}) {
		t.Errorf("expected the byte after the end tag, got %x", eth)
	}

	bad := [][]byte{
		{1, 0},
		{1, 0, 0, 18, tzspTagEnd},
		{1, 0, 0, 1, 0x0a},
		{1, 0, 0, 1, tzspTagPadding, tzspTagPadding},
	}
	for _, b := range bad {
		if _, err := StripTZSP(b); !errors.Is(err, ErrBadFrame) {
			t.Errorf("%x: expected ErrBadFrame, got %v", b, err)
		}
	}
}

func TestTZSPDecode(t *testing.T) {
	l := NewTZSPListener(TZSPOptions{})
	payload := []byte{0x00, 0x01, 0xc0, 0xde}

	pkt, ok, err := l.Decode(udpFrame(t, gameServer, localHost, 17003, 55123, payload))
	if err != nil || !ok {
		t.Fatalf("expected a game datagram, got ok %v err %v", ok, err)
	}
	if !pkt.Incoming || !bytes.Equal(pkt.Data, payload) {
		t.Errorf("expected incoming %x, got %v %x", payload, pkt.Incoming, pkt.Data)
	}

	pkt, ok, _ = l.Decode(udpFrame(t, localHost, gameServer, 55123, 16900, payload))
	if !ok || pkt.Incoming {
		t.Errorf("expected an outgoing datagram, got ok %v incoming %v", ok, pkt.Incoming)
	}

	if _, ok, _ := l.Decode(udpFrame(t, gameServer, localHost, 443, 55123, payload)); ok {
		t.Errorf("expected a datagram outside the port range to be filtered")
	}
	st := l.Stats()
	if st.Frames != 3 || st.Kept != 2 || st.Filtered != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestTZSPNotUDP(t *testing.T) {
	l := NewTZSPListener(TZSPOptions{})
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: gameServer, DstIP: localHost}
	tcp := &layers.TCP{SrcPort: 17000, DstPort: 50000, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	frame := append(tzspHeader(), ether(t, ip, tcp)...)
	if _, ok, err := l.Decode(frame); ok || err != nil {
		t.Errorf("expected tcp to be filtered, got ok %v err %v", ok, err)
	}
}

func TestTZSPDefragment(t *testing.T) {
	data := make([]byte, 1200)
	for i := range data {
		data[i] = byte(i)
	}
	udp := &layers.UDP{SrcPort: 17010, DstPort: 60000}
	ipForSum := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: gameServer, DstIP: localHost}
	if err := udp.SetNetworkLayerForChecksum(ipForSum); err != nil {
		t.Fatal(err)
	}
	dgram := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(dgram, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		udp, gopacket.Payload(data)); err != nil {
		t.Fatalf("serialize udp: %v", err)
	}
	whole := dgram.Bytes()
	split := 640

	frag := func(flags layers.IPv4Flag, offset uint16, part []byte) []byte {
		ip := &layers.IPv4{
			Version: 4, IHL: 5, TTL: 64, Id: 4242, Protocol: layers.IPProtocolUDP,
			Flags: flags, FragOffset: offset, SrcIP: gameServer, DstIP: localHost,
		}
		return append(tzspHeader(), ether(t, ip, gopacket.Payload(part))...)
	}

	l := NewTZSPListener(TZSPOptions{})
	if _, ok, err := l.Decode(frag(layers.IPv4MoreFragments, 0, whole[:split])); ok || err != nil {
		t.Fatalf("expected the first fragment to be held, got ok %v err %v", ok, err)
	}
	pkt, ok, err := l.Decode(frag(0, uint16(split/8), whole[split:]))
	if err != nil || !ok {
		t.Fatalf("expected the reassembled datagram, got ok %v err %v", ok, err)
	}
	if !bytes.Equal(pkt.Data, data) {
		t.Errorf("expected %d reassembled bytes, got %d", len(data), len(pkt.Data))
	}
	if !pkt.Incoming {
		t.Errorf("expected an incoming datagram")
	}
}
