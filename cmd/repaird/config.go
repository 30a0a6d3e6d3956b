package main

import (
	"encoding/json"
	"os"
)

// Config drives one repair channel (spec §4.3 "Configuration and
// delays", §4.5 scheduler timing, §6 control-plane listener).
type Config struct {
	Listen string `json:"listen"` // control-plane HTTP listen address, serves /status for repairctl
	Sink     string `json:"sink"`     // smux dial address for the downstream consumer
	SinkComp bool   `json:"sinkcomp"` // wrap the sink transport in snappy compression

	RTPListen  string `json:"rtplisten"`  // UDP address receiving primary/repair RTP
	FEC0Listen string `json:"fec0listen"` // UDP address receiving column FEC (FEC0)
	FEC1Listen string `json:"fec1listen"` // UDP address receiving row FEC (FEC1), 2-D mode only

	EREnabled  bool `json:"er"`
	FECEnabled bool `json:"fec"`
	RCCEnabled bool `json:"rcc"`

	AvgPktTimeMs        int `json:"avgpkttimems"`
	ConfiguredDelayMs   int `json:"configureddelayms"`
	RepairTriggerTimeMs int `json:"repairtriggertimems"`
	ReorderDelayMs      int `json:"reorderdelayms"`
	SevereLossMinDist   int `json:"severelossmindist"`
	GMin                int `json:"gmin"`
	DefaultBlockSize    int `json:"defaultblocksize"`

	FastfillEnabled  bool `json:"fastfill"`
	FastFillTimeMs   int  `json:"fastfilltimems"`
	MinBackfillMs    int  `json:"minbackfillms"`
	RepairEndDelayMs int  `json:"repairenddelayms"`
	NLLGain          float64 `json:"nllgain"`

	BitmapSize uint32 `json:"bitmapsize"`
	RingSize   uint32 `json:"ringsize"`
	StripRTP   bool   `json:"striprtp"`

	Log        string `json:"log"`
	StatsLog   string `json:"statslog"`
	StatsPeriodSec int `json:"statsperiodsec"`
	MetricsAddr string `json:"metricsaddr"`

	Quiet bool `json:"quiet"`
}

// GapHoldImplausible reports whether repair-trigger-time exceeds ten
// times reorder-delay, a margin implausible enough to warn about at
// startup, matching client/main.go's QPP/scavenger sanity warnings.
func (c Config) GapHoldImplausible() bool {
	return c.ReorderDelayMs > 0 && c.RepairTriggerTimeMs > 10*c.ReorderDelayMs
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
