package listener

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ip, mac string
		ok      bool
	}{
		{"antminer", "10.0.0.5,a0:b1:c2:d3:e4:f5", "10.0.0.5", "A0:B1:C2:D3:E4:F5", true},
		{"antminer with prefix", "[10.0.0.6/24],A0:B1:C2:D3:E4:F6\x00", "10.0.0.6", "A0:B1:C2:D3:E4:F6", true},
		{"whatsminer", "IP:10.0.0.7MAC:c4:11:22:33:44:55\x00", "10.0.0.7", "C4:11:22:33:44:55", true},
		{"whatsminer trailing byte", "IP:10.0.0.8MAC:C4:11:22:33:44:56#", "10.0.0.8", "C4:11:22:33:44:56", true},
		{"ack", "OK\x00\x00\x00\x00\x00\x00\x00\x00", "", "", false},
		{"garbage", "hello", "", "", false},
		{"bad address", "999.0.0.1,A0:B1:C2:D3:E4:F5", "", "", false},
		{"bad mac", "10.0.0.5,zz", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := Parse([]byte(tt.payload))
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.payload, ok, tt.ok)
			}
			if ok && (r.IP != tt.ip || r.MAC != tt.mac) {
				t.Errorf("Parse(%q) = %s %s, want %s %s", tt.payload, r.IP, r.MAC, tt.ip, tt.mac)
			}
		})
	}
}

func send(t *testing.T, addr net.Addr, payload string) {
	t.Helper()
	c, err := net.Dial("udp4", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte(payload)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestListen_ReportsAndCloses(t *testing.T) {
	l, err := Listen(context.Background(), Options{Host: "127.0.0.1", Ports: []int{0, 0}})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	addrs := l.Addrs()
	if len(addrs) != 2 {
		t.Fatalf("Addrs() = %v, want two sockets", addrs)
	}

	send(t, addrs[0], "OK\x00\x00\x00\x00\x00\x00\x00\x00")
	send(t, addrs[1], "IP:10.0.0.7MAC:C4:11:22:33:44:55\x00")

	select {
	case r := <-l.Reports():
		if r.IP != "10.0.0.7" || r.Port != addrs[1].(*net.UDPAddr).Port || r.ReceivedAt.IsZero() {
			t.Errorf("report = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no report received")
	}

	l.Close()
	if _, ok := <-l.Reports(); ok {
		t.Error("Reports() still open after Close")
	}
	l.Close()
}

func TestListen_ContextEndsListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	l, err := Listen(ctx, Options{Host: "127.0.0.1", Ports: []int{0}})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	cancel()

	select {
	case _, ok := <-l.Reports():
		if ok {
			t.Error("unexpected report")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener kept running after its context ended")
	}
}

func TestListen_PortInUse(t *testing.T) {
	busy, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	port := busy.LocalAddr().(*net.UDPAddr).Port
	if _, err := Listen(context.Background(), Options{Host: "127.0.0.1", Ports: []int{0, port}}); err == nil {
		t.Error("Listen() on a bound port should fail")
	}
}

func TestCollect_KeepsLatestPerIP(t *testing.T) {
	// Bind once to learn a free port, then let Collect take it over.
	free, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := free.LocalAddr()
	port := addr.(*net.UDPAddr).Port
	free.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		c, err := net.Dial("udp4", addr.String())
		if err != nil {
			return
		}
		defer c.Close()
		for _, msg := range []string{
			"10.0.0.5,A0:B1:C2:D3:E4:F5",
			"10.0.0.6,A0:B1:C2:D3:E4:F6",
			"10.0.0.5,A0:B1:C2:D3:E4:FF",
		} {
			_, _ = c.Write([]byte(msg))
		}
	}()

	got, err := Collect(context.Background(), Options{Host: "127.0.0.1", Ports: []int{port}}, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(got) != 2 || got[0].IP != "10.0.0.5" || got[0].MAC != "A0:B1:C2:D3:E4:FF" || got[1].IP != "10.0.0.6" {
		t.Errorf("Collect() = %+v", got)
	}
}
