package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/audiolink/pkg/audio"
	"github.com/robotalks/audiolink/pkg/config"
	fx "github.com/robotalks/audiolink/pkg/framework"
	"github.com/robotalks/audiolink/pkg/link"
	"github.com/robotalks/audiolink/pkg/link/simport"
	"github.com/robotalks/audiolink/pkg/metrics"
	"github.com/robotalks/audiolink/pkg/telemetry"
	"github.com/robotalks/audiolink/pkg/telemetry/mqtt"
)

const toneLevel = 0.5

func init() {
	config.SetupFlags()
}

// simPeer runs a second node on the simulated bus sending a tone.
func simPeer(conf *config.Config, ac *audio.Config, port link.Port) *fx.Loop {
	peerConf := *ac
	peerConf.Streaming = true
	peer := peerConf.MustNewTransport(port)
	var source audio.Source
	if conf.Tone > 0 {
		source = audio.NewToneSource(&peerConf, conf.Tone, toneLevel)
	}
	return audio.NewDevice(peer, nil, source).NewLoop()
}

func metricsServer(addr string, reg http.Handler) fx.Runnable {
	return fx.NamedFunc("metrics", func(ctx context.Context) error {
		srv := &http.Server{Addr: addr, Handler: reg}
		glog.Infof("metrics: listening on %s", addr)
		return fx.RunWithContextCloser(ctx, srv, func() error {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	})
}

func meterReporter(meter *audio.Meter, interval time.Duration) fx.Runnable {
	return fx.NamedFunc("meter", func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				peak, rms := meter.Level()
				glog.Infof("playback: frames=%d peak=%d max=%d rms=%.1f",
					meter.Frames(), peak, meter.MaxPeak(), rms)
			}
		}
	})
}

func main() {
	conf := config.Parse()
	ac := audio.NewConfig()

	var port link.Port
	var peer *fx.Loop
	if conf.Simulated() {
		bus := simport.NewBus(conf.Baud)
		port = bus.Attach()
		peer = simPeer(conf, ac, bus.Attach())
	} else {
		sp, err := conf.OpenSerial()
		if err != nil {
			log.Fatalln(err)
		}
		defer sp.Close()
		port = sp
	}

	t := ac.MustNewTransport(port)
	meter := &audio.Meter{}
	var source audio.Source
	if conf.Tone > 0 && !conf.Simulated() {
		source = audio.NewToneSource(ac, conf.Tone, toneLevel)
	}
	loop := audio.NewDevice(t, meter, source).NewLoop()
	if peer != nil {
		loop.AddRunnable(fx.NamedRun("sim-peer", peer))
	}

	if conf.MQTTBrokerURL != "" {
		node, err := mqtt.NewNode(conf.MQTTBrokerURL, conf.NodeInfo(ac))
		if err != nil {
			log.Fatalln(err)
		}
		node.Interval = conf.StatsInterval
		node.Stats = func() interface{} { return t.Stats() }
		node.OnCommand = func(cmd *telemetry.Command) error {
			msg, err := audio.ParseCommand(cmd.Op, cmd.Value)
			if err != nil {
				return err
			}
			loop.PostMessage(msg)
			return nil
		}
		loop.AddRunnable(node)
	}

	if conf.MetricsAddr != "" {
		collectors := append(metrics.LoopCollectors(loop), metrics.NewCollector(t.Stats))
		reg, err := metrics.NewRegistry(conf.NodeID, collectors...)
		if err != nil {
			log.Fatalln(err)
		}
		loop.AddRunnable(metricsServer(conf.MetricsAddr, metrics.Handler(reg)))
	}

	if conf.StatsInterval > 0 {
		loop.AddRunnable(meterReporter(meter, conf.StatsInterval))
	}

	glog.Infof("audiolink %s on %s: %s %d/%dHz, %d samples per frame",
		conf.NodeID, conf.Port, ac.Format, ac.WireRate, ac.DeviceRate, ac.BufferLen)
	loop.RunOrFail()
}
