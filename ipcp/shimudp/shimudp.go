// Package shimudp implements the UDP shim from spec.md §4.2: one bound
// listener socket for inbound flow requests plus one ephemeral UDP socket
// per flow, with names published/resolved through DDNS (miekg/dns) and
// flow requests correlated by a uuid echo token (spec.md Open Question 3:
// this handshake is intentionally left unauthenticated).
package shimudp

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/miekg/dns"

	ferrors "irmd-go/errors"
	"irmd-go/ipcp"
)

// Config bootstraps a ShimUDP instance.
type Config struct {
	// ListenPort is the well-known port the inbound listener binds.
	ListenPort int
	// DDNSServer is host:port of the DDNS server used to publish/resolve
	// names; when empty, names resolve via system DNS instead (spec.md
	// §4.2's "compile-time policy" becomes a runtime config here).
	DDNSServer string
}

// pendingFlow tracks one in-flight echo handshake, keyed by its
// correlation token.
type pendingFlow struct {
	portID int
	conn   *net.UDPConn
	done   chan struct{}
}

// ShimUDP is the UDP transport shim.
type ShimUDP struct {
	ipcp.Unsupported

	rt  *ipcp.Runtime
	cfg Config

	listener *net.UDPConn

	mu       sync.Mutex
	flows    map[int]*net.UDPConn // port id -> its ephemeral socket
	pending  map[string]*pendingFlow
	names    map[string]string // hash -> hostname, published via DDNS
	resolver *dns.Client
}

// New constructs a ShimUDP bound to rt, matching ipcp.New's newVariant
// signature.
func New(cfg Config) func(*ipcp.Runtime) ipcp.Variant {
	return func(rt *ipcp.Runtime) ipcp.Variant {
		return &ShimUDP{
			rt:       rt,
			cfg:      cfg,
			flows:    make(map[int]*net.UDPConn),
			pending:  make(map[string]*pendingFlow),
			names:    make(map[string]string),
			resolver: &dns.Client{Timeout: 2 * time.Second},
		}
	}
}

// Bootstrap binds the well-known listener socket for inbound flow
// requests.
func (s *ShimUDP) Bootstrap(config map[string]any) error {
	if port, ok := config["listen_port"].(float64); ok {
		s.cfg.ListenPort = int(port)
	}
	addr := &net.UDPAddr{Port: s.cfg.ListenPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "shim-udp bootstrap")
	}
	s.listener = conn
	return nil
}

// Enroll checks that dstLayer is non-empty and otherwise succeeds; the
// UDP shim has no enrollment handshake distinct from register.
func (s *ShimUDP) Enroll(dstLayer string) error {
	if dstLayer == "" {
		return ferrors.New(ferrors.EINVAL, "enroll", "dst layer is required")
	}
	return nil
}

// Register publishes hashes as DDNS A-records (or, with no DDNS server
// configured, as local resolvable names via system DNS is assumed
// external) so peers' reverse lookups can find this host.
func (s *ShimUDP) Register(hashes []string) error {
	hostname, err := localHostname()
	if err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "register")
	}

	s.mu.Lock()
	for _, h := range hashes {
		s.names[h] = hostname
	}
	s.mu.Unlock()

	if s.cfg.DDNSServer == "" {
		return nil // system DNS handles resolution; nothing to publish
	}
	for _, h := range hashes {
		if err := s.publishDDNS(h, hostname); err != nil {
			return ferrors.Wrap(err, ferrors.EAGAIN, "register")
		}
	}
	return nil
}

// Unregister removes hashes from the local directory; DDNS records are
// left to expire by TTL rather than actively retracted, matching a
// best-effort DDNS publish policy.
func (s *ShimUDP) Unregister(hashes []string) error {
	s.mu.Lock()
	for _, h := range hashes {
		delete(s.names, h)
	}
	s.mu.Unlock()
	return nil
}

// publishDDNS sends a dynamic-update A-record for host resolving to the
// local outbound IP, using miekg/dns's update message rather than a
// nsupdate shellout (spec.md §C.6: "built on miekg/dns queries ... rather
// than the source's raw nsupdate-style shellout").
func (s *ShimUDP) publishDDNS(hash, hostname string) error {
	ip, err := outboundIP()
	if err != nil {
		return err
	}

	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(hostname))
	rr, err := dns.NewRR(fmt.Sprintf("%s 300 IN A %s", dns.Fqdn(hash+"."+hostname), ip.String()))
	if err != nil {
		return err
	}
	m.Insert([]dns.RR{rr})

	_, _, err = s.resolver.Exchange(m, s.cfg.DDNSServer)
	return err
}

// resolveHash reverse-resolves hash to a hostname: first the local
// register() cache, then a DDNS/system query.
func (s *ShimUDP) resolveHash(hash string) (string, error) {
	s.mu.Lock()
	host, ok := s.names[hash]
	s.mu.Unlock()
	if ok {
		return host, nil
	}

	fqdn := dns.Fqdn(hash)
	if s.cfg.DDNSServer == "" {
		addrs, err := net.LookupHost(fqdn)
		if err != nil || len(addrs) == 0 {
			return "", ferrors.New(ferrors.EAGAIN, "query", "hash not resolvable")
		}
		return addrs[0], nil
	}

	m := new(dns.Msg)
	m.SetQuestion(fqdn, dns.TypeA)
	resp, _, err := s.resolver.Exchange(m, s.cfg.DDNSServer)
	if err != nil || len(resp.Answer) == 0 {
		return "", ferrors.New(ferrors.EAGAIN, "query", "hash not resolvable via ddns")
	}
	if a, ok := resp.Answer[0].(*dns.A); ok {
		return a.A.String(), nil
	}
	return "", ferrors.New(ferrors.EAGAIN, "query", "unexpected ddns answer type")
}

// Query resolves hash via resolveHash; the UDP shim treats "name resolves
// to a host" as "reachable in this layer".
func (s *ShimUDP) Query(hash string) (bool, error) {
	_, err := s.resolveHash(hash)
	return err == nil, nil
}

// FlowAlloc allocates an ephemeral UDP socket for portID, resolves dstHash
// to a host, sends a flow-request datagram tagged with a uuid correlation
// token, and records the token as pending. Nothing in this package reads
// the reply or completes a pending entry.
func (s *ShimUDP) FlowAlloc(portID, nPid int, dstHash string, qos int) error {
	host, err := s.resolveHash(dstHash)
	if err != nil {
		return err
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return ferrors.Wrap(err, ferrors.EAGAIN, "flow_alloc")
	}

	token := uuid.New().String()
	peerAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: s.cfg.ListenPort}
	if peerAddr.IP == nil {
		resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprint(s.cfg.ListenPort)))
		if err != nil {
			conn.Close()
			return ferrors.Wrap(err, ferrors.EAGAIN, "flow_alloc")
		}
		peerAddr = resolved
	}

	if _, err := conn.WriteToUDP([]byte("flow_req:"+token+":"+dstHash), peerAddr); err != nil {
		conn.Close()
		return ferrors.Wrap(err, ferrors.EAGAIN, "flow_alloc")
	}

	s.mu.Lock()
	s.flows[portID] = conn
	s.pending[token] = &pendingFlow{portID: portID, conn: conn, done: make(chan struct{})}
	s.mu.Unlock()

	return nil
}

// FlowAllocResp records the result of an echoed handshake; a non-zero
// response closes the ephemeral socket opened by FlowAlloc.
func (s *ShimUDP) FlowAllocResp(portID, nPid, response int) error {
	if response == 0 {
		return nil
	}
	s.mu.Lock()
	conn, ok := s.flows[portID]
	delete(s.flows, portID)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
	return nil
}

// FlowDealloc closes portID's ephemeral socket.
func (s *ShimUDP) FlowDealloc(portID int) error {
	s.mu.Lock()
	conn, ok := s.flows[portID]
	delete(s.flows, portID)
	s.mu.Unlock()
	if ok {
		return conn.Close()
	}
	return nil
}

func localHostname() (string, error) {
	return os.Hostname()
}

func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "203.0.113.1:1")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}
