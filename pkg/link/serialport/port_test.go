package serialport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/link/soft"
	"github.com/robotalks/audiolink/pkg/pktbuf"
)

func newTestPort(t *testing.T) (*Port, net.Conn) {
	host, dev := net.Pipe()
	p := New(host, Options{Baud: 1000000, IdleTimeout: 5 * time.Millisecond})
	t.Cleanup(func() {
		p.Close()
		dev.Close()
	})
	return p, dev
}

func TestDefaultIdleTimeout(t *testing.T) {
	host, dev := net.Pipe()
	defer dev.Close()
	p := New(host, Options{Baud: 9600})
	defer p.Close()
	require.Equal(t, 3*soft.CharTime(9600), p.IdleTimeout())

	host2, dev2 := net.Pipe()
	defer dev2.Close()
	p2 := New(host2, Options{Baud: 1000000})
	defer p2.Close()
	require.Equal(t, MinIdleTimeout, p2.IdleTimeout())
}

func TestTransmit(t *testing.T) {
	p, dev := newTestPort(t)
	pool := pktbuf.NewPool(4, 32)
	l := link.New(p, link.Options{Strict: true})

	b, err := pool.Alloc()
	require.NoError(t, err)
	copy(b.Bytes(), "hello, bus")
	_, err = l.Enqueue(context.Background(), b, 10)
	require.NoError(t, err)

	got := make([]byte, 10)
	_, err = io.ReadFull(dev, got)
	require.NoError(t, err)
	require.Equal(t, "hello, bus", string(got))
}

func TestReceiveOnIdle(t *testing.T) {
	p, dev := newTestPort(t)
	pool := pktbuf.NewPool(4, 32)
	l := link.New(p, link.Options{Strict: true})
	alloc := func() *pktbuf.Buffer {
		b, err := pool.Alloc()
		require.NoError(t, err)
		return b
	}

	_, _, err := l.Receive(context.Background(), alloc())
	require.NoError(t, err)
	_, err = dev.Write([]byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	prev, n, err := l.Receive(ctx, alloc())
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, prev.Bytes()[:n])
	require.Equal(t, uint64(0), p.Dropped())
}

func TestDropWhenDisarmed(t *testing.T) {
	p, dev := newTestPort(t)
	_, err := dev.Write([]byte{9, 9, 9})
	require.NoError(t, err)
	deadline := time.Now().Add(time.Second)
	for p.Dropped() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, uint64(3), p.Dropped())
}
