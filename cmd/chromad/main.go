// chromad is the chromatography instrument host daemon. It owns the
// serial (or emulator TCP) connection, polls the device state, drains
// diagnostic text from the shared line, and republishes state snapshots
// over the websocket status feed and prometheus metrics.
//
// Usage:
//
//	chromad [-config /etc/chromad.yaml] [-device /dev/ttyUSB0] [-debug]
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chromahost/pkg/config"
	"chromahost/pkg/device"
	"chromahost/pkg/metrics"
	"chromahost/pkg/statusd"
)

// statusUpdate is the JSON envelope published per state poll.
type statusUpdate struct {
	Time  time.Time     `json:"time"`
	State *device.State `json:"state"`
}

func main() {
	configFile := flag.String("config", "", "daemon configuration file")
	deviceFlag := flag.String("device", "", "override the configured device")
	debug := flag.Bool("debug", false, "force debug logging")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.WithError(err).Fatal("configuration")
	}
	if *deviceFlag != "" {
		cfg.Device = *deviceFlag
	}
	logrus.SetLevel(cfg.Level())
	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "chromad")
	log.WithField("device", cfg.Device).Info("chromad starting")

	var feed *statusd.Server
	if cfg.StatusAddr != "" {
		feed = statusd.New(cfg.StatusAddr)
		go func() {
			if err := feed.Start(); err != nil {
				log.WithError(err).Error("status feed stopped")
			}
		}()
		defer feed.Stop()
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.WithError(err).Error("metrics endpoint stopped")
			}
		}()
	}

	shutdown := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		close(shutdown)
	}()

	// The connection loop reconnects with a fixed backoff; everything
	// that touches the stream runs on this goroutine.
	for {
		select {
		case <-shutdown:
			log.Info("chromad stopped")
			return
		default:
		}
		if err := runSession(cfg, feed, shutdown, log); err != nil {
			log.WithError(err).Warn("session ended, reconnecting")
		} else {
			log.Info("chromad stopped")
			return
		}
		select {
		case <-shutdown:
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// runSession connects once and polls until the connection dies or the
// daemon shuts down. A nil return means a clean shutdown.
func runSession(cfg config.Config, feed *statusd.Server, shutdown <-chan struct{}, log *logrus.Entry) error {
	session, err := device.Dial(cfg.Device, cfg.BaudRate, device.Config{
		AttemptTimeout: cfg.AttemptTimeout.D(),
		OverallTimeout: cfg.OverallTimeout.D(),
	})
	if err != nil {
		return err
	}
	defer session.Close()
	log.Info("instrument connected")

	statePoll := time.NewTicker(cfg.StatePollInterval.D())
	defer statePoll.Stop()
	diagPoll := time.NewTicker(cfg.DiagPollInterval.D())
	defer diagPoll.Stop()

	for {
		select {
		case <-shutdown:
			return nil

		case <-diagPoll.C:
			session.PollDiagnostics()

		case <-statePoll.C:
			state, err := session.GetDeviceState()
			if err != nil {
				log.WithError(err).Warn("state poll failed")
				if !session.Check() {
					return err
				}
				continue
			}
			if feed != nil {
				feed.Publish(statusUpdate{Time: time.Now(), State: state})
			}
		}
	}
}
