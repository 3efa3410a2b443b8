package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"

	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

const protocolICMP = 1

type socketMode int32

const (
	modeUnknown socketMode = iota
	modeRaw                // ip4:icmp, needs CAP_NET_RAW or root
	modeDatagram           // udp4, needs net.ipv4.ping_group_range
)

// icmpPinger opens one socket per echo so concurrent probes never share
// reply state. The working socket kind is remembered after the first success.
type icmpPinger struct {
	mode atomic.Int32
	seq  atomic.Uint32
	id   int
	log  logger.Logger
}

func newICMPPinger(log logger.Logger) *icmpPinger {
	return &icmpPinger{id: os.Getpid() & 0xffff, log: log}
}

func (p *icmpPinger) ping(ctx context.Context, address string, timeout time.Duration) (bool, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil || !addr.Is4() {
		return false, nil
	}

	conn, mode, err := p.listen()
	if err != nil {
		if errors.Is(err, domain.ErrPermissionDenied) {
			return false, err
		}
		p.log.Debug("icmp socket unavailable", logger.String("address", address), logger.Error(err))
		return false, nil
	}
	defer conn.Close()

	seq := int(p.seq.Add(1) & 0xffff)
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{ID: p.id, Seq: seq, Data: []byte("netinventory")},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false, nil
	}

	var dst net.Addr = &net.IPAddr{IP: addr.AsSlice()}
	if mode == modeDatagram {
		dst = &net.UDPAddr{IP: addr.AsSlice()}
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return false, nil
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteTo(wire, dst); err != nil {
		return false, nil
	}

	buf := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(buf)
		if err != nil {
			return false, nil
		}
		if !samePeer(peer, addr) {
			continue
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		if !ok || echo.Seq != seq {
			continue
		}
		// The kernel rewrites the ID of datagram echo sockets
		if mode == modeRaw && echo.ID != p.id {
			continue
		}
		return true, nil
	}
}

// listen opens an ICMP socket, raw first and datagram second. Only when both
// are refused for lack of privilege is ErrPermissionDenied returned.
func (p *icmpPinger) listen() (*icmp.PacketConn, socketMode, error) {
	switch socketMode(p.mode.Load()) {
	case modeRaw:
		conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		return conn, modeRaw, err
	case modeDatagram:
		conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
		return conn, modeDatagram, err
	}

	conn, rawErr := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if rawErr == nil {
		p.mode.Store(int32(modeRaw))
		return conn, modeRaw, nil
	}
	conn, dgramErr := icmp.ListenPacket("udp4", "0.0.0.0")
	if dgramErr == nil {
		p.mode.Store(int32(modeDatagram))
		p.log.Info("using unprivileged ICMP datagram socket", logger.Error(rawErr))
		return conn, modeDatagram, nil
	}

	if errors.Is(rawErr, os.ErrPermission) && errors.Is(dgramErr, os.ErrPermission) {
		return nil, modeUnknown, fmt.Errorf("%w: raw: %v, datagram: %v", domain.ErrPermissionDenied, rawErr, dgramErr)
	}
	return nil, modeUnknown, errors.Join(rawErr, dgramErr)
}

func samePeer(peer net.Addr, want netip.Addr) bool {
	var ip net.IP
	switch a := peer.(type) {
	case *net.IPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		return false
	}
	got, ok := netip.AddrFromSlice(ip)
	return ok && got.Unmap() == want
}
