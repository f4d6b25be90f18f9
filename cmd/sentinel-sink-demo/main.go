// Command sentinel-sink-demo runs the pipeline-sink camera simulator
// (camsink.Sink) standalone, generating synthetic image buffers at a fixed
// rate in place of a real host pipeline.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PossumXI/Asgard/Sentinel/internal/camsink"
	"github.com/PossumXI/Asgard/Sentinel/internal/metrics"
	"github.com/PossumXI/Asgard/Sentinel/pkg/logging"
)

var (
	interfaceName = flag.String("interface", "127.0.0.1", "Listening interface name or address")
	serialNumber  = flag.String("serial", "ARV-SINK", "Device serial number")
	width         = flag.Uint("width", 640, "Default image width")
	height        = flag.Uint("height", 480, "Default image height")
	pixelFormat   = flag.String("pixel-format", "Mono8", "Default pixel format: Mono8, Mono16, RGB8")
	fps           = flag.Float64("fps", 10, "Synthetic frame rate")
	debugLevel    = flag.String("debug", "info", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	logger := logging.New(*debugLevel)
	log := logging.Component(logger, "sentinel-sink-demo")

	format, ok := camsink.PixelFormatFromString(*pixelFormat)
	if !ok {
		log.Errorf("unsupported pixel format %q", *pixelFormat)
		os.Exit(1)
	}

	cfg := camsink.Config{
		InterfaceName:      *interfaceName,
		SerialNumber:       *serialNumber,
		DefaultWidth:       uint32(*width),
		DefaultHeight:      uint32(*height),
		DefaultPixelFormat: format,
	}

	sink, err := camsink.New(cfg, log, metrics.New())
	if err != nil {
		log.WithError(err).Error("failed to construct sink")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sink.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start sink")
		os.Exit(1)
	}
	defer sink.Stop()

	if err := sink.SetCaps(*pixelFormat, cfg.DefaultWidth, cfg.DefaultHeight); err != nil {
		log.WithError(err).Error("failed to negotiate caps")
		os.Exit(1)
	}

	log.Infof("streaming synthetic %s %dx%d frames at %.1f fps", *pixelFormat, cfg.DefaultWidth, cfg.DefaultHeight, *fps)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	bytesPerPixel := bytesPerPixelFor(format)
	frameSize := int(cfg.DefaultWidth) * int(cfg.DefaultHeight) * bytesPerPixel
	data := make([]byte, frameSize)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / *fps))
	defer ticker.Stop()

	for {
		select {
		case <-sigChan:
			log.Info("shutdown signal received, stopping")
			return
		case <-ticker.C:
			rand.Read(data)
			if err := sink.Render(ctx, data, uint64(time.Now().UnixNano())); err != nil {
				log.WithError(err).Warn("render failed")
			}
		}
	}
}

func bytesPerPixelFor(format uint32) int {
	switch format {
	case camsink.PixelFormatMono8:
		return 1
	case camsink.PixelFormatMono16:
		return 2
	case camsink.PixelFormatRGB8:
		return 3
	default:
		return 1
	}
}
