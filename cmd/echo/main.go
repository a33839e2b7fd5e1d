// Command echo runs a netloop-based TCP echo server, demonstrating the
// end-to-end wiring of a zerolog-backed logiface.Logger into netloop's
// narrow Logger interface.
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"

	"github.com/mascotdog/netloop"
)

func main() {
	var (
		listenAddr = flag.String("addr", "0.0.0.0", "listen address")
		listenPort = flag.Uint("port", 9981, "listen port")
		threads    = flag.Int("threads", 4, "worker loop count")
		reusePort  = flag.Bool("reuseport", false, "set SO_REUSEPORT on the listening socket")
	)
	flag.Parse()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	base := logiface.New[*izerolog.Event](izerolog.L.WithZerolog(zl))
	log := netloop.NewLogifaceLogger(base)

	baseLoop := netloop.NewEventLoop(log)

	reuse := netloop.NoReusePort
	if *reusePort {
		reuse = netloop.ReusePort
	}

	addr := netloop.NewInetAddress(uint16(*listenPort), resolveBindIP(*listenAddr))
	srv, err := netloop.NewServer(baseLoop, addr, "echo", reuse,
		netloop.WithLogger(log),
		netloop.WithThreadNum(*threads),
	)
	if err != nil {
		log.Fatalf("echo: failed to construct server: %v", err)
	}

	srv.SetConnectionCallback(func(c *netloop.Conn) {
		if c.State() == netloop.StateConnected {
			log.Infof("echo: %s connected from %s", c.Name(), c.PeerAddr().ToIPPort())
		} else {
			log.Infof("echo: %s disconnected", c.Name())
		}
	})
	srv.SetMessageCallback(func(c *netloop.Conn, in *netloop.Buffer, _ time.Time) {
		c.Send(in.RetrieveAllBytes())
	})

	baseLoop.RunInLoop(func() {
		if err := srv.Start(); err != nil {
			log.Fatalf("echo: %v", err)
		}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infof("echo: shutting down")
		baseLoop.RunInLoop(func() {
			srv.Close()
			baseLoop.Quit()
		})
	}()

	baseLoop.Loop()
	baseLoop.Close()
}

// resolveBindIP maps "" to "0.0.0.0" and passes anything else through
// unchanged; InetAddress only parses dotted-quad IPv4 so anything else is
// the caller's responsibility to supply correctly.
func resolveBindIP(addr string) string {
	if addr == "" {
		return "0.0.0.0"
	}
	return addr
}
