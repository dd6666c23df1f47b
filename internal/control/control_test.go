package control

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type gate struct{ paused atomic.Bool }

func (g *gate) Pause()       { g.paused.Store(true) }
func (g *gate) Resume()      { g.paused.Store(false) }
func (g *gate) Paused() bool { return g.paused.Load() }

func TestExecute(t *testing.T) {
	g := &gate{}
	stops := 0
	c := NewController(g, func() { stops++ }, zerolog.Nop())

	assert.Equal(t, Running, c.Execute("status"))
	assert.Equal(t, Paused, c.Execute(" PAUSE \r"))
	assert.True(t, g.Paused())
	assert.Equal(t, Paused, c.Execute("status"))
	assert.Equal(t, Resumed, c.Execute("resume"))
	assert.False(t, g.Paused())
	assert.Equal(t, Unknown, c.Execute("reboot"))

	assert.Equal(t, Stopping, c.Execute("stop"))
	assert.Equal(t, Stopping, c.Execute("stop"))
	assert.Equal(t, 1, stops)
}

func TestServeConnOverPipe(t *testing.T) {
	g := &gate{}
	s := NewServer("", NewController(g, nil, zerolog.Nop()), zerolog.Nop())

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		s.serveConn(server)
		close(done)
	}()

	r := bufio.NewReader(client)
	for _, tc := range []struct{ cmd, want string }{
		{"pause", Paused},
		{"", ""},
		{"resume", Resumed},
		{"nope", Unknown},
	} {
		_, err := fmt.Fprintf(client, "%s\n", tc.cmd)
		require.NoError(t, err)
		if tc.want == "" {
			continue
		}
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, tc.want+"\n", line)
	}

	require.NoError(t, client.Close())
	<-done
}

func TestServerOverTCP(t *testing.T) {
	g := &gate{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stopped atomic.Bool
	s := NewServer("127.0.0.1:0", NewController(g, func() { stopped.Store(true) }, zerolog.Nop()), zerolog.Nop())
	require.NoError(t, s.Start())
	require.Error(t, s.Start())

	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	conn, err := net.DialTimeout("tcp", s.Addr(), time.Second)
	require.NoError(t, err)
	r := bufio.NewReader(conn)

	send := func(cmd string) string {
		_, err := fmt.Fprintf(conn, "%s\n", cmd)
		require.NoError(t, err)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return line
	}
	assert.Equal(t, "PAUSED\n", send("pause"))
	assert.Equal(t, "PAUSED\n", send("status"))
	assert.Equal(t, "STOPPING\n", send("stop"))
	assert.True(t, stopped.Load())

	cancel()
	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = r.ReadString('\n')
	assert.Error(t, err)
}
