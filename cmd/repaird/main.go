// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli"

	"github.com/xtaci/vqerepair/internal/packet"
	"github.com/xtaci/vqerepair/internal/pcm"
	"github.com/xtaci/vqerepair/internal/runtime"
	"github.com/xtaci/vqerepair/internal/sched"
	"github.com/xtaci/vqerepair/internal/sink"
	"github.com/xtaci/vqerepair/internal/stats"
	"github.com/xtaci/vqerepair/internal/statslog"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "repaird"
	myApp.Usage = "RTP packet repair core (PCM + XOR FEC + output scheduler)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{Name: "rtplisten", Value: ":5004", Usage: "UDP address receiving primary/repair RTP"},
		cli.StringFlag{Name: "fec0listen", Value: ":5006", Usage: "UDP address receiving column FEC (FEC0)"},
		cli.StringFlag{Name: "fec1listen", Value: "", Usage: "UDP address receiving row FEC (FEC1), empty disables 2-D mode"},
		cli.StringFlag{Name: "sink", Value: "", Usage: "smux dial address for the downstream consumer"},
		cli.BoolFlag{Name: "sinkcomp", Usage: "wrap the sink transport in snappy compression"},
		cli.StringFlag{Name: "metricsaddr", Value: ":9090", Usage: "Prometheus scrape listen address, empty disables"},
		cli.StringFlag{Name: "listen", Value: ":7070", Usage: "control-plane HTTP listen address (get_status), empty disables"},

		cli.BoolFlag{Name: "er", Usage: "enable error resilience (RCC local ER)"},
		cli.BoolFlag{Name: "fec", Usage: "enable FEC decoding"},
		cli.BoolFlag{Name: "rcc", Usage: "enable rapid channel change handling"},

		cli.IntFlag{Name: "avgpkttimems", Value: 20, Usage: "fallback inter-packet time estimate, ms"},
		cli.IntFlag{Name: "configureddelayms", Value: 0, Usage: "fixed jitter-buffer delay, ms"},
		cli.IntFlag{Name: "repairtriggertimems", Value: 40, Usage: "time budget for repair before default_delay, ms"},
		cli.IntFlag{Name: "reorderdelayms", Value: 0, Usage: "hold time for non-reordered primaries, ms"},
		cli.IntFlag{Name: "severelossmindist", Value: 2, Usage: "TR-135 severe-loss-index distance threshold"},
		cli.IntFlag{Name: "gmin", Value: 5, Usage: "TR-135 good-run threshold; 0 disables TR-135"},
		cli.IntFlag{Name: "defaultblocksize", Value: 10, Usage: "fallback L*D when FEC geometry unknown"},

		cli.BoolFlag{Name: "fastfill", Usage: "enable memory-optimized fastfill burst"},
		cli.IntFlag{Name: "fastfilltimems", Value: 0, Usage: "fastfill burst duration, ms"},
		cli.IntFlag{Name: "minbackfillms", Value: 0, Usage: "minimum buffered time before fastfill ends, ms"},
		cli.IntFlag{Name: "repairenddelayms", Value: 200, Usage: "grace period after first packet out, ms"},
		cli.Float64Flag{Name: "nllgain", Value: 0.1, Usage: "NLL tracking-mode low-pass filter gain"},

		cli.IntFlag{Name: "bitmapsize", Value: 8192, Usage: "gap bitmap size, power of two"},
		cli.IntFlag{Name: "ringsize", Value: 8192, Usage: "pak_seq ring size, power of two"},
		cli.BoolFlag{Name: "striprtp", Usage: "strip RTP headers before writing to the sink"},

		cli.StringFlag{Name: "log", Value: "", Usage: "specify a log file to output, default goes to stderr"},
		cli.StringFlag{Name: "statslog", Value: "", Usage: "periodic status snapshot file, snappy-framed JSON"},
		cli.IntFlag{Name: "statsperiodsec", Value: 10, Usage: "statslog write period, seconds"},
		cli.BoolFlag{Name: "quiet", Usage: "suppress per-packet ingest warnings"},

		cli.StringFlag{Name: "c", Value: "", Usage: "config from json file, which will override the command from shell"},
	}

	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.RTPListen = c.String("rtplisten")
		config.FEC0Listen = c.String("fec0listen")
		config.FEC1Listen = c.String("fec1listen")
		config.Sink = c.String("sink")
		config.SinkComp = c.Bool("sinkcomp")
		config.MetricsAddr = c.String("metricsaddr")
		config.Listen = c.String("listen")
		config.EREnabled = c.Bool("er")
		config.FECEnabled = c.Bool("fec")
		config.RCCEnabled = c.Bool("rcc")
		config.AvgPktTimeMs = c.Int("avgpkttimems")
		config.ConfiguredDelayMs = c.Int("configureddelayms")
		config.RepairTriggerTimeMs = c.Int("repairtriggertimems")
		config.ReorderDelayMs = c.Int("reorderdelayms")
		config.SevereLossMinDist = c.Int("severelossmindist")
		config.GMin = c.Int("gmin")
		config.DefaultBlockSize = c.Int("defaultblocksize")
		config.FastfillEnabled = c.Bool("fastfill")
		config.FastFillTimeMs = c.Int("fastfilltimems")
		config.MinBackfillMs = c.Int("minbackfillms")
		config.RepairEndDelayMs = c.Int("repairenddelayms")
		config.NLLGain = c.Float64("nllgain")
		config.BitmapSize = uint32(c.Int("bitmapsize"))
		config.RingSize = uint32(c.Int("ringsize"))
		config.StripRTP = c.Bool("striprtp")
		config.Log = c.String("log")
		config.StatsLog = c.String("statslog")
		config.StatsPeriodSec = c.Int("statsperiodsec")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			if err := parseJSONConfig(&config, c.String("c")); err != nil {
				return err
			}
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			if err != nil {
				return err
			}
			defer f.Close()
			log.SetOutput(f)
		}

		if config.GapHoldImplausible() {
			color.Red("warning: repair-trigger-time exceeds reorder-delay by an implausible margin")
		}
		if config.DefaultBlockSize > fecMaxLD {
			color.Red("warning: default-block-size %d exceeds FEC MAX_LD (%d)", config.DefaultBlockSize, fecMaxLD)
		}

		return run(config)
	}

	if err := myApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

const fecMaxLD = 256

func run(config Config) error {
	pool := packet.NewPool(packet.MTU)
	registry := runtime.NewRegistry()

	pcmCfg := pcm.Config{
		EREnabled:         config.EREnabled,
		FECEnabled:        config.FECEnabled,
		RCCEnabled:        config.RCCEnabled,
		AvgPktTime:        time.Duration(config.AvgPktTimeMs) * time.Millisecond,
		ConfiguredDelay:   time.Duration(config.ConfiguredDelayMs) * time.Millisecond,
		RepairTriggerTime: time.Duration(config.RepairTriggerTimeMs) * time.Millisecond,
		ReorderDelay:      time.Duration(config.ReorderDelayMs) * time.Millisecond,
		SevereLossMinDist: uint32(config.SevereLossMinDist),
		GMin:              uint32(config.GMin),
		DefaultBlockSize:  uint32(config.DefaultBlockSize),
	}
	schedCfg := sched.Config{
		ReorderDelay:    time.Duration(config.ReorderDelayMs) * time.Millisecond,
		AvgPktTime:      time.Duration(config.AvgPktTimeMs) * time.Millisecond,
		FastfillEnabled: config.FastfillEnabled,
		FastFillTime:    time.Duration(config.FastFillTimeMs) * time.Millisecond,
		MinBackfill:     time.Duration(config.MinBackfillMs) * time.Millisecond,
		RepairEndDelay:  time.Duration(config.RepairEndDelayMs) * time.Millisecond,
		NLLGain:         config.NLLGain,
	}

	ch, err := registry.Open(pcmCfg, schedCfg, pool, config.BitmapSize, config.RingSize, config.RCCEnabled)
	if err != nil {
		return err
	}

	if config.Sink != "" {
		if err := attachSink(ch, config.Sink, config.StripRTP, config.SinkComp); err != nil {
			log.Println("sink dial failed:", err)
		}
	}

	if config.MetricsAddr != "" {
		exporter := stats.NewExporter(string(ch.Handle), ch)
		reg := prometheus.NewRegistry()
		reg.MustRegister(exporter)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			log.Println("metrics listening on", config.MetricsAddr)
			log.Println(http.ListenAndServe(config.MetricsAddr, mux))
		}()
	}

	if config.Listen != "" {
		go serveStatus(config.Listen, ch)
	}

	var logger *statslog.Logger
	if config.StatsLog != "" {
		logger = statslog.NewLogger(config.StatsLog, time.Duration(config.StatsPeriodSec)*time.Second, ch)
		go logger.Run(time.Now)
		defer logger.Stop()
	}

	twoD := config.FEC1Listen != ""
	if config.FECEnabled {
		if conn, err := listenUDP(config.FEC0Listen); err != nil {
			log.Println("fec0 listen:", err)
		} else {
			go runFECIngest(conn, pool, ch, twoD, config.Quiet)
		}
		if twoD {
			if conn, err := listenUDP(config.FEC1Listen); err != nil {
				log.Println("fec1 listen:", err)
			} else {
				go runFECIngest(conn, pool, ch, twoD, config.Quiet)
			}
		}
	}

	conn, err := listenUDP(config.RTPListen)
	if err != nil {
		return err
	}
	go runRTPIngest(conn, pool, ch, config.Quiet)

	log.Println("version:", VERSION)
	log.Println("rtp listening on:", config.RTPListen)

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		ch.Tick(time.Now())
	}
	return nil
}

func listenUDP(addr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", udpAddr)
}

func attachSink(ch *runtime.Channel, addr string, stripRTP, compress bool) error {
	s, err := sink.Dial(addr, sink.DialOptions{
		MaxReceiveBuffer: 4194304,
		MaxStreamBuffer:  2097152,
		MaxFrameSize:     32768,
		KeepAlive:        10 * time.Second,
		Compress:         compress,
		StripRTP:         stripRTP,
		RTPHeaderSize:    rtpHeaderSize,
	})
	if err != nil {
		return err
	}
	ch.Sched.AddSink(s)
	return nil
}
