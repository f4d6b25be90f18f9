// Command sentinel-proxy runs a standalone GVCP proxy for an external GVSP
// source: it answers discovery, register and memory commands on behalf of
// a simulated camera backend, enforcing single-controller ownership.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PossumXI/Asgard/Sentinel/internal/engine"
	"github.com/PossumXI/Asgard/Sentinel/internal/gvcpsock"
	"github.com/PossumXI/Asgard/Sentinel/internal/metrics"
	"github.com/PossumXI/Asgard/Sentinel/internal/netiface"
	"github.com/PossumXI/Asgard/Sentinel/internal/register"
	"github.com/PossumXI/Asgard/Sentinel/pkg/logging"
)

var (
	version = "1.0.0"

	interfaceName   string
	serialNumber    string
	genicamFilename string
	backendName     string
	debugLevel      string
	metricsPort     int
)

func init() {
	flag.StringVar(&interfaceName, "interface", "127.0.0.1", "Listening interface name or address")
	flag.StringVar(&interfaceName, "i", "127.0.0.1", "Listening interface name or address (shorthand)")
	flag.StringVar(&serialNumber, "serial", "GVCP01", "Device serial number")
	flag.StringVar(&serialNumber, "s", "GVCP01", "Device serial number (shorthand)")
	flag.StringVar(&genicamFilename, "genicam", "", "XML Genicam file to expose")
	flag.StringVar(&genicamFilename, "g", "", "XML Genicam file to expose (shorthand)")
	flag.StringVar(&backendName, "backend", "fake", "Backend name (fake, memory)")
	flag.StringVar(&backendName, "b", "fake", "Backend name (shorthand)")
	flag.StringVar(&debugLevel, "debug", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&debugLevel, "d", "info", "Log level (shorthand)")
	flag.IntVar(&metricsPort, "metrics-port", 9956, "Prometheus metrics HTTP port")
}

func main() {
	flag.Parse()

	logger := logging.New(debugLevel)
	log := logging.Component(logger, "sentinel-proxy")

	log.Infof("sentinel-proxy %s starting", version)

	backend, err := register.New(backendName, serialNumber, genicamFilename)
	if err != nil {
		log.WithError(err).Error("failed to initialize backend")
		os.Exit(1)
	}
	defer backend.Close()

	iface, err := netiface.Lookup(interfaceName)
	if err != nil {
		log.WithError(err).Errorf("no network interface with address or name %q found", interfaceName)
		os.Exit(1)
	}
	backend.SetInetAddress(iface.IP)

	sockets, err := gvcpsock.Bind(iface, log)
	if err != nil {
		log.WithError(err).Error("failed to start GVCP proxy")
		os.Exit(1)
	}
	defer sockets.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		log.WithError(err).Warn("failed to register metrics")
	}

	eng := engine.New(backend, sockets, log, engine.WithMetrics(m))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng.Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: fmt.Sprintf(":%d", metricsPort), Handler: mux}
	go func() {
		log.Infof("metrics HTTP listening on :%d", metricsPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutdown signal received, stopping")
	cancel()
	eng.Wait()
	httpServer.Close()
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "sentinel-proxy"})
}
