package main

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vortexnet/raknet/config"
	"github.com/vortexnet/raknet/conn"
	"github.com/vortexnet/raknet/listener"
	"github.com/vortexnet/raknet/metrics"
	"github.com/vortexnet/raknet/rlog"
	"github.com/vortexnet/raknet/wire"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:   "raknetd",
		Short: "RakNet-compatible UDP transport daemon",
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	root.AddCommand(serverCmd(&configPath), clientCmd(&configPath), pingCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfigOrDefault(path string) config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		rlog.For("cmd").Fatal().Err(err).Str("path", path).Msg("failed to load config")
	}
	return cfg
}

func serverCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server [host:port]",
		Short: "Run a RakNet listener",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rlog.Banner("raknetd", version)
			cfg := loadConfigOrDefault(*configPath)

			addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
			if len(args) == 1 {
				addr = args[0]
			}

			if cfg.Metrics.Enabled {
				go serveMetrics(cfg.Metrics.Addr)
			}

			opts := listener.Options{ProtocolVersion: cfg.ProtocolVersion, MOTD: []byte(cfg.MOTD)}
			if cfg.RateLimit.Enabled {
				opts.RateLimitRPS = cfg.RateLimit.PacketsPerSecond
				opts.RateLimitBurst = cfg.RateLimit.Burst
			} else {
				opts.RateLimitRPS = math.MaxInt32
				opts.RateLimitBurst = math.MaxInt32
			}

			l, err := listener.Listen(addr, opts)
			if err != nil {
				return fmt.Errorf("server: %w", err)
			}
			defer l.Close()

			rlog.Section("listening on " + l.Addr().String())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				for {
					c, err := l.Accept()
					if err != nil {
						errCh <- err
						return
					}
					go serveConnection(c)
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-sig:
				rlog.For("cmd").Info().Msg("shutting down")
				return nil
			}
		},
	}
	return cmd
}

// serveConnection drains a connection's inbound application payloads
// until it closes. A real server would hand payloads to its own
// protocol; this transport daemon just logs arrival.
func serveConnection(c *conn.Conn) {
	log := rlog.Conn("session", c.RemoteAddr().String())
	for payload := range c.Inbound {
		log.Debug().Int("bytes", len(payload)).Msg("received application payload")
	}
}

func clientCmd(configPath *string) *cobra.Command {
	var guid uint64
	cmd := &cobra.Command{
		Use:   "client <host:port>",
		Short: "Dial a RakNet server and hold the connection open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefault(*configPath)
			if guid == 0 {
				guid = conn.NewGUID()
			}

			remote, sock, err := dialSocket(args[0])
			if err != nil {
				return err
			}
			defer sock.Close()

			sender := newSocketSender(sock, remote)
			c := conn.NewClient(sender, remote, guid, cfg.ProtocolVersion)

			go pumpSocket(sock, c)
			go func() {
				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()
				for now := range ticker.C {
					if c.Tick(now) != nil {
						return
					}
				}
			}()

			if err := c.Dial(time.Now()); err != nil {
				return err
			}

			log := rlog.Conn("client", remote.String())
			for {
				select {
				case payload, ok := <-c.Inbound:
					if !ok {
						return nil
					}
					log.Info().Int("bytes", len(payload)).Msg("received")
				case ev, ok := <-c.Events:
					if !ok {
						return nil
					}
					if ev.Kind == conn.EventConnected {
						log.Info().Msg("connected")
					}
					if ev.Kind == conn.EventClosed {
						return ev.Err
					}
				}
			}
		},
	}
	cmd.Flags().Uint64Var(&guid, "guid", 0, "client GUID (random if zero)")
	return cmd
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping <host:port>",
		Short: "Send a single UnconnectedPing and print the pong payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, sock, err := dialSocket(args[0])
			if err != nil {
				return err
			}
			defer sock.Close()

			ping := wire.UnconnectedPing{SendTimestamp: uint64(time.Now().UnixMilli()), ClientGUID: conn.NewGUID()}
			if _, err := sock.Write(ping.Encode()); err != nil {
				return err
			}

			buf := make([]byte, 2048)
			_ = sock.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, err := sock.Read(buf)
			if err != nil {
				return fmt.Errorf("ping: no reply from %s: %w", remote, err)
			}

			msg, err := wire.DecodeMessage(buf[:n], n)
			if err != nil {
				return err
			}
			pong, ok := msg.(wire.UnconnectedPong)
			if !ok {
				return fmt.Errorf("ping: unexpected reply message")
			}
			fmt.Printf("pong from %s: guid=%d motd=%q\n", remote, pong.ServerGUID, string(pong.Data))
			return nil
		},
	}
}

func dialSocket(addr string) (*net.UDPAddr, *net.UDPConn, error) {
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	sock, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %q: %w", addr, err)
	}
	return remote, sock, nil
}

type socketSender struct {
	sock   *net.UDPConn
	remote *net.UDPAddr
}

func newSocketSender(sock *net.UDPConn, remote *net.UDPAddr) *socketSender {
	return &socketSender{sock: sock, remote: remote}
}

func (s *socketSender) SendTo(_ *net.UDPAddr, data []byte) error {
	_, err := s.sock.Write(data)
	return err
}

func pumpSocket(sock *net.UDPConn, c *conn.Conn) {
	buf := make([]byte, 2048)
	for {
		n, err := sock.Read(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		if c.HandleInbound(data, time.Now()) != nil {
			return
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	_ = http.ListenAndServe(addr, mux)
}
