// Command mnloop drives two in-memory NetworkInterfaces through a TCP
// handshake, with a DNS-over-TCP responder serving the server side,
// ticking the stack forward on a fixed schedule. The client side sends no
// DNS query of its own; it only logs once its handshake completes. It exists to exercise the stack end to end; a real
// deployment would replace loopbackPort with a TUN device or raw socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tinyrange/minnow/internal/dnsapp"
	"github.com/tinyrange/minnow/internal/metrics"
	"github.com/tinyrange/minnow/internal/netif"
	"github.com/tinyrange/minnow/internal/pcap"
	"github.com/tinyrange/minnow/internal/wrap32"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file overriding the defaults")
	duration := flag.Duration("duration", 5*time.Second, "how long to run before exiting")
	pcapPath := flag.String("pcap", "", "optional path to write a pcap capture of every frame sent")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	if err := run(logger, cfg, *duration, *pcapPath); err != nil {
		logger.Error("run", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg Config, duration time.Duration, pcapPath string) error {
	reg := prometheus.NewRegistry()

	macA, err := net.ParseMAC(cfg.HostA.MAC)
	if err != nil {
		return err
	}
	macB, err := net.ParseMAC(cfg.HostB.MAC)
	if err != nil {
		return err
	}
	ipA := net.ParseIP(cfg.HostA.IPv4)
	ipB := net.ParseIP(cfg.HostB.IPv4)

	portA := &loopbackPort{}
	portB := &loopbackPort{}

	if pcapPath != "" {
		f, err := os.Create(pcapPath)
		if err != nil {
			return fmt.Errorf("mnloop: create pcap file: %w", err)
		}
		defer f.Close()
		portA.tap = pcap.NewFrameTap(pcap.NewWriter(f), 65535, time.Now)
		portB.tap = portA.tap
	}

	ifaceA, err := netif.New(macA, ipA, portA)
	if err != nil {
		return err
	}
	ifaceB, err := netif.New(macB, ipB, portB)
	if err != nil {
		return err
	}
	portA.peer = ifaceB
	portB.peer = ifaceA

	ifaceA.SetMetrics(metrics.NewInterface(reg, "host-a"))
	ifaceB.SetMetrics(metrics.NewInterface(reg, "host-b"))

	client := newEndpoint("client", logger, ifaceA, wrap32.New(100), cfg, ipA, ipB, cfg.HostA.Port, cfg.HostB.Port)
	server := newEndpoint("server", logger, ifaceB, wrap32.New(900), cfg, ipB, ipA, cfg.HostB.Port, cfg.HostA.Port)
	client.metrics = metrics.NewSender(reg, "client")
	server.metrics = metrics.NewSender(reg, "server")

	zone := dnsapp.Zone{}
	for name, addr := range cfg.Zone {
		if ip := net.ParseIP(addr); ip != nil {
			zone[name] = ip
		}
	}
	responder := dnsapp.NewResponder(server.recv.Reader(), server.sender.Writer(), zone)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	defer httpSrv.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, duration)
	defer cancelTimeout()

	ticker := time.NewTicker(time.Duration(cfg.TickMillis) * time.Millisecond)
	defer ticker.Stop()

	sentQuery := false

	for {
		select {
		case <-ctx.Done():
			logger.Info("mnloop done")
			return nil
		case <-ticker.C:
			client.Tick(cfg.TickMillis)
			ifaceA.Tick(cfg.TickMillis)

			if err := responder.Poll(); err != nil {
				logger.Warn("dns responder", "error", err)
			}
			server.Tick(cfg.TickMillis)
			ifaceB.Tick(cfg.TickMillis)

			if !sentQuery && client.sender.SequenceNumbersInFlight() == 0 {
				sentQuery = true
				logger.Info("client stream ready, TCP handshake established")
			}
		}
	}
}
