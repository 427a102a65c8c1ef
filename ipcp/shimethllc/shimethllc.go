// Package shimethllc implements the raw-Ethernet LLC shim from spec.md
// §4.2: flows are framed as 802.2 LLC frames (gopacket) over an
// AF_PACKET socket (golang.org/x/sys/unix), addressed by MAC and
// SAP rather than IP and port.
package shimethllc

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"golang.org/x/sys/unix"

	ferrors "irmd-go/errors"
	"irmd-go/ipcp"
)

// defaultSAP is the 802.2 SAP this shim registers flows under; spec.md
// leaves the concrete SAP unspecified, so it is configurable via
// Bootstrap's config map.
const defaultSAP = 0xC0

// Config bootstraps a ShimEthLLC instance.
type Config struct {
	// Iface is the network interface to bind the AF_PACKET socket to.
	Iface string
	// SAP is the 802.2 LLC service access point this layer answers on.
	SAP byte
}

// flow tracks one allocated port id's remote peer MAC and correlation
// sequence.
type flow struct {
	peerMAC net.HardwareAddr
	seq     uint16
}

// ShimEthLLC is the raw-Ethernet/LLC transport shim.
type ShimEthLLC struct {
	ipcp.Unsupported

	rt  *ipcp.Runtime
	cfg Config

	fd      int
	ifindex int
	srcMAC  net.HardwareAddr

	mu        sync.Mutex
	flows     map[int]*flow
	names     map[string]net.HardwareAddr // hash -> peer MAC
	nextSeq   uint16
}

// New constructs a ShimEthLLC bound to rt, matching ipcp.New's newVariant
// signature.
func New(cfg Config) func(*ipcp.Runtime) ipcp.Variant {
	if cfg.SAP == 0 {
		cfg.SAP = defaultSAP
	}
	return func(rt *ipcp.Runtime) ipcp.Variant {
		return &ShimEthLLC{
			rt:    rt,
			cfg:   cfg,
			fd:    -1,
			flows: make(map[int]*flow),
			names: make(map[string]net.HardwareAddr),
		}
	}
}

// Bootstrap opens an AF_PACKET/SOCK_RAW socket bound to the configured
// interface, the LLC shim's transport resource.
func (s *ShimEthLLC) Bootstrap(config map[string]any) error {
	if iface, ok := config["iface"].(string); ok {
		s.cfg.Iface = iface
	}
	if s.cfg.Iface == "" {
		return ferrors.New(ferrors.EINVAL, "bootstrap", "iface is required")
	}

	ifi, err := net.InterfaceByName(s.cfg.Iface)
	if err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "bootstrap")
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "bootstrap")
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  ifi.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return ferrors.Wrap(err, ferrors.EAGAIN, "bootstrap")
	}

	s.fd = fd
	s.ifindex = ifi.Index
	s.srcMAC = ifi.HardwareAddr
	return nil
}

// Enroll validates dstLayer is non-empty; the LLC shim has no separate
// enrollment protocol.
func (s *ShimEthLLC) Enroll(dstLayer string) error {
	if dstLayer == "" {
		return ferrors.New(ferrors.EINVAL, "enroll", "dst layer is required")
	}
	return nil
}

// Register records nothing: this shim's only directory is the map of
// peer MACs by hash, and it keeps no list of its own registered hashes.
func (s *ShimEthLLC) Register(hashes []string) error {
	return nil
}

// Unregister drops any peer MAC recorded for hashes.
func (s *ShimEthLLC) Unregister(hashes []string) error {
	s.mu.Lock()
	for _, h := range hashes {
		delete(s.names, h)
	}
	s.mu.Unlock()
	return nil
}

// Query reports whether hash has a peer MAC recorded.
func (s *ShimEthLLC) Query(hash string) (bool, error) {
	s.mu.Lock()
	_, ok := s.names[hash]
	s.mu.Unlock()
	return ok, nil
}

// FlowAlloc sends one LLC frame carrying a "flow_req:"+dstHash payload to
// the peer MAC recorded for dstHash, or to the broadcast address when
// none is recorded, and records the flow under portID.
func (s *ShimEthLLC) FlowAlloc(portID, nPid int, dstHash string, qos int) error {
	if s.fd < 0 {
		return ferrors.New(ferrors.EIPCP, "flow_alloc", "not bootstrapped")
	}

	s.mu.Lock()
	peerMAC, known := s.names[dstHash]
	s.mu.Unlock()

	dst := peerMAC
	if !known {
		dst = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff} // broadcast
	}

	seq := s.nextFrameSeq()
	frame, err := buildFrame(s.srcMAC, dst, s.cfg.SAP, seq, []byte("flow_req:"+dstHash))
	if err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "flow_alloc")
	}

	if err := s.send(frame); err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "flow_alloc")
	}

	s.mu.Lock()
	s.flows[portID] = &flow{peerMAC: dst, seq: seq}
	s.mu.Unlock()
	return nil
}

// FlowAllocResp tears down the port id's flow entry on rejection.
func (s *ShimEthLLC) FlowAllocResp(portID, nPid, response int) error {
	if response != 0 {
		s.mu.Lock()
		delete(s.flows, portID)
		s.mu.Unlock()
	}
	return nil
}

// FlowDealloc removes portID's flow entry and sends the peer an LLC frame
// carrying a "flow_dealloc" payload.
func (s *ShimEthLLC) FlowDealloc(portID int) error {
	s.mu.Lock()
	f, ok := s.flows[portID]
	delete(s.flows, portID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	frame, err := buildFrame(s.srcMAC, f.peerMAC, s.cfg.SAP, f.seq, []byte("flow_dealloc"))
	if err != nil {
		return nil
	}
	return s.send(frame)
}

func (s *ShimEthLLC) nextFrameSeq() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return s.nextSeq
}

func (s *ShimEthLLC) send(frame []byte) error {
	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  s.ifindex,
	}
	return unix.Sendto(s.fd, frame, 0, addr)
}

// buildFrame constructs an Ethernet frame carrying an 802.2 LLC header
// (gopacket/layers) with payload as the LLC information field, tagged
// with seq as the LLC control sequence.
func buildFrame(src, dst net.HardwareAddr, sap byte, seq uint16, payload []byte) ([]byte, error) {
	// Length (not EthernetType) is set for 802.3/LLC frames: gopacket
	// serializes it into the wire EtherType field whenever it is under
	// the 1500 Ethernet-II/LLC cutover.
	eth := &layers.Ethernet{
		SrcMAC: src,
		DstMAC: dst,
		Length: uint16(len(payload)),
	}
	llc := &layers.LLC{
		DSAP:    sap,
		SSAP:    sap,
		Control: seq,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, llc, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize llc frame: %w", err)
	}
	return buf.Bytes(), nil
}

func htons(v int) uint16 {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return binary.LittleEndian.Uint16(b)
}
