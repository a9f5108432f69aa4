// Package listener waits for miners that announce themselves over UDP when
// their "IP report" button is pressed.
package listener

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/martinsuchenak/asicfleet/internal/log"
)

// Ports the vendor firmwares send their IP report to.
const (
	AntminerPort   = 14235
	WhatsminerPort = 8888
)

// DefaultPorts are bound when Options.Ports is empty.
var DefaultPorts = []int{AntminerPort, WhatsminerPort}

// ackFrame is sent back by some antminer firmwares and carries no address.
var ackFrame = []byte("OK\x00\x00\x00\x00\x00\x00\x00\x00")

// Report is one device announcing itself.
type Report struct {
	IP         string    `json:"ip"`
	MAC        string    `json:"mac"`
	Port       int       `json:"port"`
	ReceivedAt time.Time `json:"received_at"`
}

// Options configure a Listener.
type Options struct {
	// Host is the address to bind; empty means every interface.
	Host  string
	Ports []int
}

// Listener reads IP reports until it is closed or its context ends.
type Listener struct {
	conns   []net.PacketConn
	reports chan Report
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Listen binds every port and starts reading. Reports arrive on Reports,
// which is closed once the listener has stopped.
func Listen(ctx context.Context, opts Options) (*Listener, error) {
	ports := opts.Ports
	if len(ports) == 0 {
		ports = DefaultPorts
	}

	var lc net.ListenConfig
	conns := make([]net.PacketConn, 0, len(ports))
	for _, p := range ports {
		c, err := lc.ListenPacket(ctx, "udp4", net.JoinHostPort(opts.Host, strconv.Itoa(p)))
		if err != nil {
			for _, c := range conns {
				c.Close()
			}
			return nil, fmt.Errorf("listening on udp port %d: %w", p, err)
		}
		conns = append(conns, c)
	}

	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		conns:   conns,
		reports: make(chan Report),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error { return l.read(gctx, c) })
	}
	context.AfterFunc(gctx, func() {
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		defer close(l.done)
		defer close(l.reports)
		if err := g.Wait(); err != nil {
			log.Warn("Miner listener stopped", "error", err)
		}
	}()

	log.Info("Listening for miners", "ports", ports)
	return l, nil
}

// Reports streams announcements in arrival order.
func (l *Listener) Reports() <-chan Report { return l.reports }

// Addrs returns the bound local addresses.
func (l *Listener) Addrs() []net.Addr {
	out := make([]net.Addr, len(l.conns))
	for i, c := range l.conns {
		out[i] = c.LocalAddr()
	}
	return out
}

// Close stops the listener and waits for its readers to exit.
func (l *Listener) Close() {
	l.once.Do(func() {
		l.cancel()
		log.Info("Stopped listening for miners")
	})
	<-l.done
}

func (l *Listener) read(ctx context.Context, c net.PacketConn) error {
	port := c.LocalAddr().(*net.UDPAddr).Port
	buf := make([]byte, 512)
	for {
		n, from, err := c.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading udp port %d: %w", port, err)
		}
		r, ok := Parse(buf[:n])
		if !ok {
			log.Debug("Ignoring datagram", "from", from.String(), "port", port, "bytes", n)
			continue
		}
		r.Port = port
		r.ReceivedAt = time.Now()
		log.Info("Miner announced itself", "ip", r.IP, "mac", r.MAC)

		select {
		case l.reports <- r:
		case <-ctx.Done():
			return nil
		}
	}
}

// Parse decodes an IP report. Antminers send "ip,mac"; whatsminers send
// "IP:<ip>MAC:<mac>" followed by one trailing byte.
func Parse(payload []byte) (Report, bool) {
	if bytes.Equal(payload, ackFrame) {
		return Report{}, false
	}
	msg := strings.TrimRight(string(payload), "\x00\r\n\t ")

	var ip, mac string
	if before, after, ok := strings.Cut(msg, ","); ok {
		ip, mac = before, after
		// Some firmwares report "[ip/prefix]".
		ip = strings.Trim(ip, "[]")
		ip, _, _ = strings.Cut(ip, "/")
	} else {
		i := strings.Index(msg, "MAC")
		if !strings.HasPrefix(msg, "IP") || i < 0 {
			return Report{}, false
		}
		ip = strings.TrimLeft(msg[2:i], ":")
		mac = strings.TrimLeft(msg[i+3:], ":")
		if len(mac) > 17 {
			mac = mac[:17]
		}
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil || !addr.Is4() {
		return Report{}, false
	}
	mac = strings.ToUpper(strings.TrimSpace(mac))
	if _, err := net.ParseMAC(mac); err != nil {
		return Report{}, false
	}
	return Report{IP: addr.String(), MAC: mac}, true
}

// Collect listens for d and returns the latest report per IP, in order of
// first appearance. It returns early with what it has when ctx ends.
func Collect(ctx context.Context, opts Options, d time.Duration) ([]Report, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	l, err := Listen(ctx, opts)
	if err != nil {
		return nil, err
	}
	defer l.Close()

	var out []Report
	seen := make(map[string]int)
	for r := range l.Reports() {
		if i, ok := seen[r.IP]; ok {
			out[i] = r
			continue
		}
		seen[r.IP] = len(out)
		out = append(out, r)
	}
	return out, nil
}
