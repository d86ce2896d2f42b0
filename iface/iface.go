// Package iface implements the interface manager: periodic
// discovery sweeps, per-interface UDP binding plus a process-wide
// broadcast-receive socket, the interface_rules admission filter, and
// per-interface ticks that drive self-announce/route-adv/rhizome-adv
// through the TX queue engine.
/*
 * Copyright (c) 2026, Serval Project contributors. All rights reserved.
 */
package iface

import (
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/serval-mesh/meshd/cmn/cos"
	"github.com/serval-mesh/meshd/cmn/nlog"
	"github.com/serval-mesh/meshd/txq"
)

// Type classifies the physical/link layer of an interface.
type Type int

const (
	TypeUnknown Type = iota
	TypeEthernet
	TypeWifi
	TypePacketRadio
)

func (t Type) String() string {
	switch t {
	case TypeEthernet:
		return "ethernet"
	case TypeWifi:
		return "wifi"
	case TypePacketRadio:
		return "packetradio"
	default:
		return "unknown"
	}
}

func parseType(s string) Type {
	switch strings.ToUpper(s) {
	case "ETHERNET":
		return TypeEthernet
	case "WIFI":
		return TypeWifi
	case "PACKETRADIO":
		return TypePacketRadio
	default:
		return TypeUnknown
	}
}

// State is an interface's lifecycle state.
type State int

const (
	Down State = iota
	Detecting
	Up
)

func (s State) String() string {
	switch s {
	case Down:
		return "down"
	case Detecting:
		return "detecting"
	case Up:
		return "up"
	default:
		return "unknown"
	}
}

// DefaultMTU is the default MTU for a newly discovered interface.
const DefaultMTU = 1200

// Interface is one slot in the fixed-size table of MaxInterfaces entries.
type Interface struct {
	Index int

	Name             string
	Type             Type
	State            State
	Address          string
	BroadcastAddress string
	Netmask          string
	MTU              int
	BitsPerSecond    int64
	Port             int
	TickMS           int
	LastTickMS       int64
	RecvOffset       int64 // file-backed links only

	conn *net.UDPConn
	file *dummyLink

	mu sync.Mutex
}

func (ifc *Interface) String() string {
	return ifc.Name + "/" + ifc.Type.String() + "/" + ifc.State.String()
}

// dummyLink is the file-backed ">name" test interface. writeOffset
// tracks the next append position explicitly (an explicit pwrite-style
// offset, not lseek+write — see iface/dummy.go's writeDummyRecord doc).
type dummyLink struct {
	path        string
	f           *os.File
	writeOffset int64
}

// OVERLAY_MAX_INTERFACES.
const MaxInterfaces = 32

// Source reports interfaces the platform currently believes exist; the
// manager consults every registered source in priority order during a
// sweep.
type Source interface {
	Discover() ([]SourceInterface, error)
}

// SourceInterface is what a discovery source reports about one candidate.
type SourceInterface struct {
	Name             string
	Type             Type
	Address          string
	BroadcastAddress string
	Netmask          string
	BitsPerSecond    int64
	Dummy            bool // true for ">name" file-backed candidates
	FilePath         string
}

// Rule is one interface_rules entry: "±name[=type][:port[:bps]]".
type Rule struct {
	Allow bool
	Name  string // may contain a leading '>' for dummy interfaces
	Type  Type
	Port  int
	BPS   int64

	hasType bool
	hasPort bool
	hasBPS  bool
}

// ParseRule parses one interface_rules entry.
func ParseRule(s string) (Rule, error) {
	if len(s) == 0 || (s[0] != '+' && s[0] != '-') {
		return Rule{}, cos.NewErr(cos.KindParse, "interface_rules: entry %q must start with + or -", s)
	}
	r := Rule{Allow: s[0] == '+'}
	rest := s[1:]
	fields := strings.Split(rest, ":")
	namePart := fields[0]
	if eq := strings.IndexByte(namePart, '='); eq >= 0 {
		r.Name = namePart[:eq]
		r.Type = parseType(namePart[eq+1:])
		r.hasType = true
	} else {
		r.Name = namePart
	}
	if len(fields) > 1 {
		p, err := strconv.Atoi(fields[1])
		if err != nil {
			return Rule{}, cos.NewErr(cos.KindParse, "interface_rules: bad port in %q", s)
		}
		r.Port, r.hasPort = p, true
	}
	if len(fields) > 2 {
		bps, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return Rule{}, cos.NewErr(cos.KindParse, "interface_rules: bad bps in %q", s)
		}
		r.BPS, r.hasBPS = bps, true
	}
	return r, nil
}

// match reports whether r names cand: the names must be equal (there is
// no glob or prefix matching) and, when r carries a type, so must the types.
func (r Rule) match(cand SourceInterface) bool {
	if r.Name != cand.Name {
		return false
	}
	if r.hasType && r.Type != cand.Type {
		return false
	}
	return true
}

// Manager owns the fixed interface table, the discovery source list, and
// the process-wide broadcast-receive socket.
type Manager struct {
	mu      sync.Mutex
	ifaces  [MaxInterfaces]*Interface
	rules   []Rule
	sources []Source
	anyConn *net.UDPConn
	port    int

	tickByName map[string]int // mdp.<name>.tick_ms overrides
	tickByType map[string]int // mdp.<type>.tick_ms overrides

	arpPeers []string // PokeARPPeers fallback list
}

// defaultTickMS is a freshly discovered interface's tick cadence when no
// config override names it; packet radio ticks far slower to respect its
// bandwidth budget.
func defaultTickMS(t Type) int {
	if t == TypePacketRadio {
		return 15000
	}
	return 500
}

// NewManager creates a Manager that binds its process-wide broadcast
// receive socket to port.
func NewManager(port int) *Manager {
	return &Manager{port: port}
}

// SetRules installs the interface_rules admission filter, first match wins.
func (m *Manager) SetRules(rules []Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
}

// AddSource registers a discovery source, consulted in registration order.
func (m *Manager) AddSource(s Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, s)
}

// SetTickOverrides installs the mdp.<type>.tick_ms / mdp.<name>.tick_ms
// config options; by-name wins over by-type. Applies to interfaces
// discovered after the call.
func (m *Manager) SetTickOverrides(byType, byName map[string]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickByType, m.tickByName = byType, byName
}

func (m *Manager) tickForLocked(name string, t Type) int {
	if ms, ok := m.tickByName[strings.TrimPrefix(name, ">")]; ok {
		return ms
	}
	if ms, ok := m.tickByType[t.String()]; ok {
		return ms
	}
	return defaultTickMS(t)
}

// admit reports whether cand passes the interface_rules filter, and the
// effective port/bps it should bind with.
func (m *Manager) admit(cand SourceInterface) (allow bool, port int, bps int64) {
	port, bps = m.port, cand.BitsPerSecond
	for _, r := range m.rules {
		if r.match(cand) {
			if r.hasPort {
				port = r.Port
			}
			if r.hasBPS {
				bps = r.BPS
			}
			return r.Allow, port, bps
		}
	}
	return true, port, bps // no matching rule: default admit
}

// bindAnySocket opens the process-wide INADDR_ANY:port broadcast-receive
// socket, setting SO_REUSEADDR so it coexists with per-interface
// unicast sockets bound to the same port.
func (m *Manager) bindAnySocket() error {
	if m.anyConn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: m.port})
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "iface: bind ANY:%d", m.port)
	}
	if err := setReuseAddr(conn); err != nil {
		conn.Close()
		return err
	}
	m.anyConn = conn
	return nil
}

// setReuseAddr/setBroadcast apply SO_REUSEADDR/SO_BROADCAST via the raw fd
// , the reason golang.org/x/sys/unix is in this
// package's dependency list rather than relying on net alone.
func setReuseAddr(c *net.UDPConn) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "iface: raw conn for SO_REUSEADDR")
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "iface: control SO_REUSEADDR")
	}
	if sockErr != nil {
		return cos.WrapErr(cos.KindIO, sockErr, "iface: setsockopt SO_REUSEADDR")
	}
	return nil
}

func setBroadcast(c *net.UDPConn) error {
	raw, err := c.SyscallConn()
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "iface: raw conn for SO_BROADCAST")
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "iface: control SO_BROADCAST")
	}
	if sockErr != nil {
		return cos.WrapErr(cos.KindIO, sockErr, "iface: setsockopt SO_BROADCAST")
	}
	return nil
}

// Sweep runs one discovery cycle: every UP interface is marked
// DETECTING, every source is consulted, any interface a source names
// transitions DETECTING→UP (binding it if new), and anything still
// DETECTING afterward is closed.
func (m *Manager) Sweep() error {
	m.mu.Lock()
	for _, ifc := range m.ifaces {
		if ifc != nil && ifc.State == Up {
			ifc.State = Detecting
		}
	}
	sources := append([]Source(nil), m.sources...)
	m.mu.Unlock()

	if err := m.bindAnySocket(); err != nil {
		nlog.Warningf("iface: %v", err)
	}

	// seen is keyed by (name, broadcast_address); at most one UP slot per
	// pair.
	seen := make(map[uint64]bool)
	for _, src := range sources {
		cands, err := src.Discover()
		if err != nil {
			nlog.Warningf("iface: discovery source error: %v", err)
			continue
		}
		for _, cand := range cands {
			name := cand.Name
			if cand.Dummy && !strings.HasPrefix(name, ">") {
				name = ">" + name
			}
			key := cos.HashString(name + "|" + cand.BroadcastAddress)
			if seen[key] {
				continue
			}
			seen[key] = true
			allow, port, bps := m.admit(cand)
			if !allow {
				continue
			}
			cand.Name = name
			cand.BitsPerSecond = bps
			if err := m.observe(cand, port); err != nil {
				nlog.Warningf("iface: %s: %v", name, err)
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ifc := range m.ifaces {
		if ifc != nil && ifc.State == Detecting {
			nlog.Infof("iface: %s still detecting at end of sweep, closing", ifc.Name)
			m.closeLocked(i)
		}
	}
	return nil
}

// observe transitions an admitted candidate DETECTING→UP, binding a fresh
// socket if this is the first time the name has been seen.
func (m *Manager) observe(cand SourceInterface, port int) error {
	m.mu.Lock()
	idx := m.findLocked(cand.Name)
	if idx < 0 {
		var free int = -1
		for i, ifc := range m.ifaces {
			if ifc == nil {
				free = i
				break
			}
		}
		if free < 0 {
			m.mu.Unlock()
			return cos.NewErr(cos.KindSpace, "iface: table full at %d slots", MaxInterfaces)
		}
		idx = free
		m.ifaces[idx] = &Interface{
			Index:            idx,
			Name:             cand.Name,
			Type:             cand.Type,
			Address:          cand.Address,
			BroadcastAddress: cand.BroadcastAddress,
			Netmask:          cand.Netmask,
			MTU:              DefaultMTU,
			BitsPerSecond:    cand.BitsPerSecond,
			Port:             port,
			TickMS:           m.tickForLocked(cand.Name, cand.Type),
		}
	}
	ifc := m.ifaces[idx]
	m.mu.Unlock()

	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	if ifc.conn == nil && ifc.file == nil {
		if cand.Dummy {
			f, err := os.OpenFile(cand.FilePath, os.O_RDWR|os.O_CREATE, 0o644)
			if err != nil {
				return cos.WrapErr(cos.KindIO, err, "iface: open dummy link %s", cand.FilePath)
			}
			link := &dummyLink{path: cand.FilePath, f: f}
			if st, err := f.Stat(); err == nil {
				link.writeOffset = st.Size()
			}
			ifc.file = link
		} else if err := bindInterfaceSocket(ifc); err != nil {
			return err
		}
	}
	ifc.State = Up
	return nil
}

func bindInterfaceSocket(ifc *Interface) error {
	addr := &net.UDPAddr{Port: ifc.Port}
	if ifc.Address != "" {
		addr.IP = net.ParseIP(ifc.Address)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return cos.WrapErr(cos.KindIO, err, "iface: bind %s", ifc.Name)
	}
	if err := setBroadcast(conn); err != nil {
		conn.Close()
		return err
	}
	ifc.conn = conn
	return nil
}

// IndexOf returns the table slot for name, or -1 if unknown.
func (m *Manager) IndexOf(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(name)
}

func (m *Manager) findLocked(name string) int {
	for i, ifc := range m.ifaces {
		if ifc != nil && ifc.Name == name {
			return i
		}
	}
	return -1
}

func (m *Manager) closeLocked(idx int) {
	ifc := m.ifaces[idx]
	if ifc == nil {
		return
	}
	if ifc.conn != nil {
		ifc.conn.Close()
	}
	if ifc.file != nil {
		ifc.file.f.Close()
	}
	ifc.State = Down
	ifc.conn = nil
	ifc.file = nil
}

// Close marks name DOWN and releases its socket, leaving its table slot
// intact so it can be re-activated if rediscovered.
func (m *Manager) Close(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.findLocked(name); idx >= 0 {
		m.closeLocked(idx)
	}
}

// UpInterfaces implements txq.PacketSender.
func (m *Manager) UpInterfaces() []txq.InterfaceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []txq.InterfaceInfo
	for _, ifc := range m.ifaces {
		if ifc != nil && ifc.State == Up {
			out = append(out, txq.InterfaceInfo{Index: ifc.Index, MTU: ifc.MTU})
		}
	}
	return out
}

// Send implements txq.PacketSender: writes data out ifaceIndex, to addr if
// unicast is true, else to the interface's broadcast address. A failure
// other than EAGAIN closes the interface.
func (m *Manager) Send(ifaceIndex int, unicast bool, addr string, data []byte) error {
	m.mu.Lock()
	var ifc *Interface
	if ifaceIndex >= 0 && ifaceIndex < MaxInterfaces {
		ifc = m.ifaces[ifaceIndex]
	}
	m.mu.Unlock()
	if ifc == nil || ifc.State != Up {
		return cos.NewErr(cos.KindNotFound, "iface: send to unknown or down interface %d", ifaceIndex)
	}

	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	if ifc.file != nil {
		// Another process may share the file (two daemons on one dummy
		// link); skip past anything appended since our last write.
		if st, err := ifc.file.f.Stat(); err == nil && st.Size() > ifc.file.writeOffset {
			ifc.file.writeOffset = st.Size()
		}
		off := ifc.file.writeOffset
		if err := writeDummyRecord(ifc.file.f, off, data); err != nil {
			return err
		}
		ifc.file.writeOffset += dummyRecordSize
		return nil
	}
	dest := ifc.BroadcastAddress
	if unicast {
		dest = addr
	}
	udpAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(dest, strconv.Itoa(ifc.Port)))
	if err != nil {
		return cos.WrapErr(cos.KindValidation, err, "iface: resolve %s", dest)
	}
	_, err = ifc.conn.WriteToUDP(data, udpAddr)
	if err != nil && !cos.IsEAgain(err) {
		nlog.Warningf("iface: %s sendto failed, closing: %v", ifc.Name, err)
		ifc.conn.Close()
		ifc.conn = nil
		ifc.State = Down
		return cos.WrapErr(cos.KindIO, err, "iface: sendto %s", ifc.Name)
	}
	return err
}

// Tick runs one interface's periodic self-announce/route-adv cycle. The
// caller wires Frame enqueueing for self-announce/route-adv bodies into
// fill; this method only advances bookkeeping and runs it.
func (m *Manager) Tick(name string, now time.Time, fill func() error) error {
	m.mu.Lock()
	idx := m.findLocked(name)
	m.mu.Unlock()
	if idx < 0 {
		return cos.NewErr(cos.KindNotFound, "iface: tick for unknown interface %q", name)
	}
	ifc := m.ifaces[idx]
	ifc.mu.Lock()
	ifc.LastTickMS = now.UnixMilli()
	ifc.mu.Unlock()
	return fill()
}

// TickInfo is what the tick scheduler needs to know about one UP interface.
type TickInfo struct {
	Index  int
	Name   string
	TickMS int
	Dummy  bool
}

// TickInfos reports every UP interface's tick configuration; a tick
// interval of 0 disables the periodic self-advertisement.
func (m *Manager) TickInfos() []TickInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TickInfo
	for _, ifc := range m.ifaces {
		if ifc != nil && ifc.State == Up {
			out = append(out, TickInfo{Index: ifc.Index, Name: ifc.Name, TickMS: ifc.TickMS, Dummy: ifc.file != nil})
		}
	}
	return out
}

// PollDummy consumes every complete record appended to a file-backed
// interface since the last poll, advancing RecvOffset. Records this
// interface itself wrote come back too; the overlay layer's self-announce
// handling tolerates hearing itself.
func (m *Manager) PollDummy(ifaceIndex int) ([][]byte, error) {
	m.mu.Lock()
	var ifc *Interface
	if ifaceIndex >= 0 && ifaceIndex < MaxInterfaces {
		ifc = m.ifaces[ifaceIndex]
	}
	m.mu.Unlock()
	if ifc == nil || ifc.file == nil {
		return nil, nil
	}
	ifc.mu.Lock()
	defer ifc.mu.Unlock()
	var out [][]byte
	for {
		payload, ok, err := readDummyRecord(ifc.file.f, ifc.RecvOffset)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		ifc.RecvOffset += dummyRecordSize
		out = append(out, payload)
	}
}

// SetARPPeers installs the slow-timer unicast fallback address list.
func (m *Manager) SetARPPeers(addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.arpPeers = addrs
}

// PokeARPPeers unicasts body (a rhizome advertisement) to every configured
// ARP peer address on ifc, routing around WiFi drivers that silently drop
// broadcast frames.
func (m *Manager) PokeARPPeers(ifaceIndex int, body []byte) {
	m.mu.Lock()
	peers := append([]string(nil), m.arpPeers...)
	m.mu.Unlock()
	for _, addr := range peers {
		if err := m.Send(ifaceIndex, true, addr, body); err != nil {
			nlog.Warningf("iface: ARP-nudge to %s failed: %v", addr, err)
		}
	}
}

// ReceiveFDs returns every fd the scheduler should watch for read
// readiness: the process-wide ANY socket plus every UP interface's own
// unicast socket. A nil Interface.conn (dummy
// links, or a down interface) contributes no fd.
func (m *Manager) ReceiveFDs() map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]string)
	if m.anyConn != nil {
		if fd, err := connFD(m.anyConn); err == nil {
			out[fd] = ""
		}
	}
	for _, ifc := range m.ifaces {
		if ifc == nil || ifc.State != Up || ifc.conn == nil {
			continue
		}
		if fd, err := connFD(ifc.conn); err == nil {
			out[fd] = ifc.Name
		}
	}
	return out
}

// RecvFrom reads one pending datagram off ifaceName's socket (or the ANY
// socket when ifaceName is ""), attributing ANY-socket datagrams to the
// interface whose network contains the source address; an unattributable
// datagram is dropped.
func (m *Manager) RecvFrom(ifaceName string) (data []byte, fromAddr string, ifc *Interface, err error) {
	m.mu.Lock()
	conn := m.anyConn
	if ifaceName != "" {
		if idx := m.findLocked(ifaceName); idx >= 0 {
			conn = m.ifaces[idx].conn
		}
	}
	m.mu.Unlock()
	if conn == nil {
		return nil, "", nil, cos.NewErr(cos.KindNotFound, "iface: no socket for %q", ifaceName)
	}

	buf := make([]byte, 65536)
	n, addr, err := conn.ReadFromUDP(buf)
	if err != nil {
		return nil, "", nil, cos.WrapErr(cos.KindIO, err, "iface: recvfrom %q", ifaceName)
	}
	from := addr.IP.String()

	if ifaceName != "" {
		m.mu.Lock()
		idx := m.findLocked(ifaceName)
		m.mu.Unlock()
		if idx >= 0 {
			return buf[:n], from, m.ifaces[idx], nil
		}
	}
	owner := m.attributeToInterface(from)
	if owner == nil {
		return nil, "", nil, cos.NewErr(cos.KindProtocol, "iface: unattributable datagram from %s, dropping", from)
	}
	return buf[:n], from, owner, nil
}

// attributeToInterface finds the UP interface whose network contains src,
// for datagrams that arrived on the process-wide ANY socket.
func (m *Manager) attributeToInterface(src string) *Interface {
	srcIP := net.ParseIP(src)
	if srcIP == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ifc := range m.ifaces {
		if ifc == nil || ifc.State != Up || ifc.Netmask == "" || ifc.Address == "" {
			continue
		}
		mask := net.IPMask(net.ParseIP(ifc.Netmask).To4())
		ifaceIP := net.ParseIP(ifc.Address).To4()
		if ifaceIP == nil || mask == nil {
			continue
		}
		if srcIP.To4() == nil {
			continue
		}
		if srcIP.To4().Mask(mask).Equal(ifaceIP.Mask(mask)) {
			return ifc
		}
	}
	return nil
}

func connFD(c *net.UDPConn) (int, error) {
	raw, err := c.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = raw.Control(func(f uintptr) { fd = int(f) })
	return fd, err
}

// Summary is a read-only snapshot of one interface slot, safe to copy
// (status endpoints, metrics export).
type Summary struct {
	Name  string
	Type  Type
	State State
}

// Snapshot returns a Summary for every occupied table slot.
func (m *Manager) Snapshot() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Summary
	for _, ifc := range m.ifaces {
		if ifc == nil {
			continue
		}
		out = append(out, Summary{Name: ifc.Name, Type: ifc.Type, State: ifc.State})
	}
	return out
}
