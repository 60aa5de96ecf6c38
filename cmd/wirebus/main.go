// Command wirebus runs one endpoint of the framed message protocol: either
// the listening side, which accepts a single peer and echoes every text
// message back, or the connecting side, which greets the peer and keeps
// pinging it.
package main

import (
	"context"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conch/wirebus/internal/config"
	"github.com/conch/wirebus/internal/metrics"
	"github.com/conch/wirebus/pkg/logging"
	"github.com/conch/wirebus/pkg/socket"
	"github.com/conch/wirebus/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	msgTypeText uint32 = 1
	msgTypePing uint32 = 2
)

// TextMessage carries a UTF-8 string payload.
type TextMessage struct {
	Text string
}

func (m *TextMessage) MarshalBinary() ([]byte, error) {
	return []byte(m.Text), nil
}

func (m *TextMessage) UnmarshalBinary(b []byte) error {
	m.Text = string(b)
	return nil
}

// PingMessage carries the sender's timestamp as 8 big-endian bytes.
type PingMessage struct {
	SentAt time.Time
}

func (m *PingMessage) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.SentAt.UnixNano()))
	return buf, nil
}

func (m *PingMessage) UnmarshalBinary(b []byte) error {
	if len(b) != 8 {
		return fmt.Errorf("ping payload must be 8 bytes, got %d", len(b))
	}
	m.SentAt = time.Unix(0, int64(binary.BigEndian.Uint64(b)))
	return nil
}

var errSocketDone = errors.New("socket finished")

func main() {
	role := flag.String("role", "listen", "endpoint role: listen or connect")
	addr := flag.String("addr", "", "IPv4 address (overrides config file)")
	port := flag.Uint("port", 0, "TCP port (overrides config file)")
	cfgPath := flag.String("config", "", "path to YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	setupLogger(*debug)

	if err := config.Init(*cfgPath); err != nil {
		slog.Error("failed to initialize config", "error", err)
		os.Exit(1)
	}
	if *addr != "" || *port != 0 {
		config.Update(func(c *config.Config) {
			if *addr != "" {
				c.Address = *addr
			}
			if *port != 0 {
				c.Port = uint16(*port)
			}
		})
	}
	cfg := config.Load()

	reg := wire.NewRegistry()
	reg.Register(msgTypeText, func() wire.Message { return &TextMessage{} })
	reg.Register(msgTypePing, func() wire.Message { return &PingMessage{} })

	sock := socket.New(reg, cfg.SocketConfig())

	arrived := make(chan struct{}, 1)
	sock.AddListener(&socket.ListenerFuncs{
		OnStateChanged: func(st socket.State) {
			slog.Info("state changed", "state", st.String())
		},
		OnMessageReceived: func() {
			select {
			case arrived <- struct{}{}:
			default:
			}
		},
		OnError: func(e *socket.Error) {
			slog.Warn("socket error", "kind", e.Kind.String(), "desc", e.Desc)
		},
	})

	var err error
	switch *role {
	case "listen":
		err = sock.Listen(cfg.Address, cfg.Port)
	case "connect":
		err = sock.Connect(cfg.Address, cfg.Port)
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q (want listen or connect)\n", *role)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("failed to start endpoint", "role", *role, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sock.Wait()
		return errSocketDone
	})

	g.Go(func() error {
		<-gctx.Done()
		sock.Close()
		sock.Wait()
		return nil
	})

	g.Go(func() error { return consumeLoop(gctx, sock, arrived, *role == "listen") })

	if *role == "connect" {
		g.Go(func() error { return pingLoop(gctx, sock) })
	}

	if cfg.MetricsEnabled {
		g.Go(func() error { return serveMetrics(gctx, sock, cfg.MetricsBindAddr) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, errSocketDone) && !errors.Is(err, context.Canceled) {
		slog.Error("endpoint terminated", "error", err)
		os.Exit(1)
	}

	if last := sock.LastError(); last != nil && last.Fatal {
		slog.Error("endpoint failed", "kind", last.Kind.String(), "desc", last.Desc)
		os.Exit(1)
	}
}

// consumeLoop drains arrived messages; the listening side echoes text back.
func consumeLoop(ctx context.Context, sock *socket.Socket, arrived <-chan struct{}, echo bool) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-arrived:
		}

		for {
			msg, ok := sock.TakeReceived()
			if !ok {
				break
			}

			switch m := msg.(type) {
			case *TextMessage:
				slog.Info("text received", "text", m.Text)
				if echo {
					sock.Send(&TextMessage{Text: m.Text})
				}
			case *PingMessage:
				slog.Info("ping received", "latency", time.Since(m.SentAt).String())
				if echo {
					sock.Send(m)
				}
			default:
				slog.Warn("unhandled message", "type", fmt.Sprintf("%T", msg))
			}
		}
	}
}

// pingLoop greets the peer, then pings every 2 s.
func pingLoop(ctx context.Context, sock *socket.Socket) error {
	sock.Send(&TextMessage{Text: "hello from wirebus"})

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sock.Send(&PingMessage{SentAt: time.Now()})
		}
	}
}

func serveMetrics(ctx context.Context, sock *socket.Socket, bindAddr string) error {
	promReg := prometheus.NewRegistry()
	metrics.Register(promReg, sock.Metrics)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(promReg))
	server := &http.Server{Addr: bindAddr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("serving metrics", "addr", bindAddr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setupLogger(debug bool) {
	opts := logging.DefaultOptions()
	if debug {
		opts.SlogOpts.Level = slog.LevelDebug
	}

	h := logging.NewPrettyHandler(os.Stdout, &opts)
	slog.SetDefault(slog.New(h))
}
