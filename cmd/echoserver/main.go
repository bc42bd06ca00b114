// Command echoserver runs a socketnet server that sends every received
// message body back to its sender.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyberinferno/socketnet/config"
	"github.com/cyberinferno/socketnet/connection"
	"github.com/cyberinferno/socketnet/frame"
	"github.com/cyberinferno/socketnet/logger"
	"github.com/cyberinferno/socketnet/pool"
	"github.com/cyberinferno/socketnet/tcpserver"
)

func main() {
	path := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "echoserver: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bans, closeBans, err := cfg.NewBanList(ctx)
	if err != nil {
		return err
	}
	defer closeBans()

	cfg.Server.Bans = bans
	server, err := tcpserver.New(cfg.Server, log)
	if err != nil {
		return err
	}

	server.OnAdmit(func(c *connection.Connection) {
		go echo(server, c.Address(), log)
	})

	if err := server.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down server")
	server.Stop()
	return nil
}

// echo returns each body verbatim under the sender's encoder name and
// transmission type until the connection goes away.
func echo(server *tcpserver.Server, addr string, log logger.Logger) {
	for {
		msg, err := server.Recv(addr)
		switch {
		case err == nil:
		case connection.IsTimeout(err):
			continue
		case errors.Is(err, pool.ErrNotFound), connection.IsTransportClosed(err):
			return
		default:
			log.Warn("echo receive failed", logger.Field{Key: "addr", Value: addr}, logger.Err(err))
			return
		}

		err = server.Send(addr, msg.Bytes(), frame.SendOptions{
			Encoder:          msg.Header.EncoderName,
			Compress:         msg.Header.Compressed,
			TransmissionType: msg.Header.TransmissionType,
		})
		if err != nil && !errors.Is(err, pool.ErrNotFound) {
			log.Warn("echo send failed", logger.Field{Key: "addr", Value: addr}, logger.Err(err))
		}
	}
}
