package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtaci/vqerepair/internal/pcm"
)

// CounterSnapshot is the plain-value view Exporter needs of one
// channel's counters; Provider supplies it without stats importing
// internal/sched or internal/runtime back (spec §9 "Cyclic ownership"
// applies equally to the ambient stack).
type CounterSnapshot struct {
	PCM pcm.LossStatus

	SchedUnderrunCount  uint64
	SchedOutputGapCount uint64
	SchedOutputLossCount uint64

	NLL Snapshot
}

// Provider is implemented by anything that can report a channel's
// current counters; internal/runtime.Channel satisfies it.
type Provider interface {
	Counters() CounterSnapshot
}

// Exporter adapts one Provider to prometheus.Collector, giving the PCM
// TR-135/overrun counters, the scheduler counters and the NLL offset
// percentiles (spec §4.3, §6) a standard scrape endpoint alongside the
// programmatic get_status call. FEC buffer counters are not exported.
type Exporter struct {
	label    string
	provider Provider

	overrunDesc        *prometheus.Desc
	underrunDesc       *prometheus.Desc
	duplicateRepairDesc *prometheus.Desc
	inputGapDesc       *prometheus.Desc
	lateDesc           *prometheus.Desc
	badRangeDesc       *prometheus.Desc

	schedUnderrunDesc   *prometheus.Desc
	schedOutputGapDesc  *prometheus.Desc
	schedOutputLossDesc *prometheus.Desc

	preECLossEventsDesc  *prometheus.Desc
	postECLossEventsDesc *prometheus.Desc
	preECSevereDesc      *prometheus.Desc
	postECSevereDesc     *prometheus.Desc

	nllOffsetP50Desc *prometheus.Desc
	nllOffsetP99Desc *prometheus.Desc
}

// NewExporter creates an Exporter labeling every metric with label
// (typically the channel's runtime.Handle).
func NewExporter(label string, provider Provider) *Exporter {
	constLabels := prometheus.Labels{"channel": label}
	return &Exporter{
		label:    label,
		provider: provider,

		overrunDesc:         prometheus.NewDesc("vqerepair_pcm_overrun_total", "Packet cache overflow/flush events.", nil, constLabels),
		underrunDesc:        prometheus.NewDesc("vqerepair_pcm_underrun_total", "Packet cache under-run events.", nil, constLabels),
		duplicateRepairDesc: prometheus.NewDesc("vqerepair_pcm_duplicate_repair_total", "Duplicate repair packets discarded.", nil, constLabels),
		inputGapDesc:        prometheus.NewDesc("vqerepair_pcm_input_gap_total", "Non-contiguous insertions observed on input.", nil, constLabels),
		lateDesc:            prometheus.NewDesc("vqerepair_pcm_late_total", "Packets rejected as arriving too late.", nil, constLabels),
		badRangeDesc:        prometheus.NewDesc("vqerepair_pcm_bad_range_total", "Packets rejected as out of the accepted sequence range.", nil, constLabels),

		schedUnderrunDesc:   prometheus.NewDesc("vqerepair_sched_underrun_total", "Scheduler ticks with nothing eligible to emit.", nil, constLabels),
		schedOutputGapDesc:  prometheus.NewDesc("vqerepair_sched_output_gap_total", "Non-contiguous sequence numbers at output.", nil, constLabels),
		schedOutputLossDesc: prometheus.NewDesc("vqerepair_sched_output_loss_total", "Packets missing at output after repair.", nil, constLabels),

		preECLossEventsDesc:  prometheus.NewDesc("vqerepair_tr135_pre_ec_loss_events_total", "TR-135 loss events observed before error concealment.", nil, constLabels),
		postECLossEventsDesc: prometheus.NewDesc("vqerepair_tr135_post_ec_loss_events_total", "TR-135 loss events observed after error concealment.", nil, constLabels),
		preECSevereDesc:      prometheus.NewDesc("vqerepair_tr135_pre_ec_severe_loss_index_total", "TR-135 severe loss index, pre-EC.", nil, constLabels),
		postECSevereDesc:     prometheus.NewDesc("vqerepair_tr135_post_ec_severe_loss_index_total", "TR-135 severe loss index, post-EC.", nil, constLabels),

		nllOffsetP50Desc: prometheus.NewDesc("vqerepair_nll_offset_seconds_p50", "Median NLL tracking offset.", nil, constLabels),
		nllOffsetP99Desc: prometheus.NewDesc("vqerepair_nll_offset_seconds_p99", "99th percentile NLL tracking offset.", nil, constLabels),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.overrunDesc
	ch <- e.underrunDesc
	ch <- e.duplicateRepairDesc
	ch <- e.inputGapDesc
	ch <- e.lateDesc
	ch <- e.badRangeDesc
	ch <- e.schedUnderrunDesc
	ch <- e.schedOutputGapDesc
	ch <- e.schedOutputLossDesc
	ch <- e.preECLossEventsDesc
	ch <- e.postECLossEventsDesc
	ch <- e.preECSevereDesc
	ch <- e.postECSevereDesc
	ch <- e.nllOffsetP50Desc
	ch <- e.nllOffsetP99Desc
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.provider.Counters()

	ch <- prometheus.MustNewConstMetric(e.overrunDesc, prometheus.CounterValue, float64(snap.PCM.OverrunCount))
	ch <- prometheus.MustNewConstMetric(e.underrunDesc, prometheus.CounterValue, float64(snap.PCM.UnderrunCount))
	ch <- prometheus.MustNewConstMetric(e.duplicateRepairDesc, prometheus.CounterValue, float64(snap.PCM.DuplicateRepairCount))
	ch <- prometheus.MustNewConstMetric(e.inputGapDesc, prometheus.CounterValue, float64(snap.PCM.InputGapCount))
	ch <- prometheus.MustNewConstMetric(e.lateDesc, prometheus.CounterValue, float64(snap.PCM.LateCount))
	ch <- prometheus.MustNewConstMetric(e.badRangeDesc, prometheus.CounterValue, float64(snap.PCM.BadRangeCount))

	ch <- prometheus.MustNewConstMetric(e.schedUnderrunDesc, prometheus.CounterValue, float64(snap.SchedUnderrunCount))
	ch <- prometheus.MustNewConstMetric(e.schedOutputGapDesc, prometheus.CounterValue, float64(snap.SchedOutputGapCount))
	ch <- prometheus.MustNewConstMetric(e.schedOutputLossDesc, prometheus.CounterValue, float64(snap.SchedOutputLossCount))

	ch <- prometheus.MustNewConstMetric(e.preECLossEventsDesc, prometheus.CounterValue, float64(snap.PCM.PreECLossEvents))
	ch <- prometheus.MustNewConstMetric(e.postECLossEventsDesc, prometheus.CounterValue, float64(snap.PCM.PostECLossEvents))
	ch <- prometheus.MustNewConstMetric(e.preECSevereDesc, prometheus.CounterValue, float64(snap.PCM.PreECSevereIndex))
	ch <- prometheus.MustNewConstMetric(e.postECSevereDesc, prometheus.CounterValue, float64(snap.PCM.PostECSevereIndex))

	ch <- prometheus.MustNewConstMetric(e.nllOffsetP50Desc, prometheus.GaugeValue, snap.NLL.OffsetP50.Seconds())
	ch <- prometheus.MustNewConstMetric(e.nllOffsetP99Desc, prometheus.GaugeValue, snap.NLL.OffsetP99.Seconds())
}
