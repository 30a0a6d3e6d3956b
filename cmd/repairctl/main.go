// repairctl queries a running repaird's control-plane endpoint
// (spec §6 "Control-plane queries") and renders the get_status
// snapshot for an operator, the human-usable counterpart to kcptun's
// machine-usable CSV snmp log.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/xtaci/vqerepair/internal/stats"
)

func main() {
	myApp := cli.NewApp()
	myApp.Name = "repairctl"
	myApp.Usage = "inspect a running repaird's counters"
	myApp.Commands = []cli.Command{
		{
			Name:  "status",
			Usage: "fetch and render one get_status snapshot",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "addr", Value: "http://127.0.0.1:7070", Usage: "repaird control-plane base address"},
				cli.IntFlag{Name: "watch", Value: 0, Usage: "poll N times at 1s interval and sparkline the loss counter, 0 for a single snapshot"},
			},
			Action: func(c *cli.Context) error {
				return statusCmd(c.String("addr"), c.Int("watch"))
			},
		},
	}

	if err := myApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fetchStatus(addr string) (stats.CounterSnapshot, error) {
	resp, err := http.Get(addr + "/status")
	if err != nil {
		return stats.CounterSnapshot{}, err
	}
	defer resp.Body.Close()

	var snap stats.CounterSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return stats.CounterSnapshot{}, err
	}
	return snap, nil
}

func statusCmd(addr string, watch int) error {
	snap, err := fetchStatus(addr)
	if err != nil {
		return err
	}
	renderTable(snap)

	if watch <= 0 {
		return nil
	}

	series := make([]float64, 0, watch)
	prevLoss := snap.SchedOutputLossCount
	for i := 0; i < watch; i++ {
		time.Sleep(time.Second)
		s, err := fetchStatus(addr)
		if err != nil {
			continue
		}
		series = append(series, float64(s.SchedOutputLossCount-prevLoss))
		prevLoss = s.SchedOutputLossCount
	}
	if len(series) > 0 {
		fmt.Println()
		fmt.Println("output loss count, per second:")
		fmt.Println(asciigraph.Plot(series, asciigraph.Height(8)))
	}
	return nil
}

func renderTable(snap stats.CounterSnapshot) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header([]string{"counter", "value"})
	rows := [][]string{
		{"pcm overrun", fmt.Sprint(snap.PCM.OverrunCount)},
		{"pcm underrun", fmt.Sprint(snap.PCM.UnderrunCount)},
		{"pcm duplicate repair", fmt.Sprint(snap.PCM.DuplicateRepairCount)},
		{"pcm input gap", fmt.Sprint(snap.PCM.InputGapCount)},
		{"pcm late", fmt.Sprint(snap.PCM.LateCount)},
		{"pcm bad range", fmt.Sprint(snap.PCM.BadRangeCount)},
		{"tr135 pre-ec loss events", fmt.Sprint(snap.PCM.PreECLossEvents)},
		{"tr135 post-ec loss events", fmt.Sprint(snap.PCM.PostECLossEvents)},
		{"tr135 pre-ec severe index", fmt.Sprint(snap.PCM.PreECSevereIndex)},
		{"tr135 post-ec severe index", fmt.Sprint(snap.PCM.PostECSevereIndex)},
		{"sched underrun", fmt.Sprint(snap.SchedUnderrunCount)},
		{"sched output gap", fmt.Sprint(snap.SchedOutputGapCount)},
		{"sched output loss", fmt.Sprint(snap.SchedOutputLossCount)},
		{"nll offset p50", snap.NLL.OffsetP50.String()},
		{"nll offset p99", snap.NLL.OffsetP99.String()},
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}
