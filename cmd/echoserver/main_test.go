package main

import (
	"context"
	"testing"
	"time"

	"github.com/cyberinferno/socketnet/connection"
	"github.com/cyberinferno/socketnet/encoder"
	"github.com/cyberinferno/socketnet/frame"
	"github.com/cyberinferno/socketnet/logger"
	"github.com/cyberinferno/socketnet/tcpclient"
	"github.com/cyberinferno/socketnet/tcpserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct {
	Seq  int
	Note string
}

func TestEcho_KeepsEncoderAndType(t *testing.T) {
	server, err := tcpserver.New(tcpserver.DefaultConfig("127.0.0.1:0"), nil)
	require.NoError(t, err)
	server.OnAdmit(func(c *connection.Connection) {
		go echo(server, c.Address(), logger.NewNopLogger())
	})
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	cfg := tcpclient.DefaultConfig(server.Addr().String())
	cfg.IdleTimeout = 2 * time.Second
	client := tcpclient.New(cfg, nil)
	require.NoError(t, client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Close() })

	sent := ping{Seq: 7, Note: "marco"}
	require.NoError(t, client.Send(sent, frame.SendOptions{Encoder: encoder.Advanced, Compress: true, TransmissionType: "ping"}))

	msg, err := client.Recv()
	require.NoError(t, err)
	assert.Equal(t, encoder.Advanced, msg.Header.EncoderName)
	assert.Equal(t, "ping", msg.Header.TransmissionType)
	assert.True(t, msg.Header.Compressed)

	enc, err := encoder.Default.Lookup(msg.Header.EncoderName)
	require.NoError(t, err)
	var got ping
	require.NoError(t, enc.Unmarshal(msg.Bytes(), &got))
	assert.Equal(t, sent, got)
}
