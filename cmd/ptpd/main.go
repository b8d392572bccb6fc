/*
Copyright (c) Clockwerk.io and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// ptpd is a PTP (IEEE 1588-2019) ordinary clock daemon
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clockwerk-io/ptpd/clock"
	"github.com/clockwerk-io/ptpd/config"
	"github.com/clockwerk-io/ptpd/instance"
	"github.com/clockwerk-io/ptpd/network"
	ptp "github.com/clockwerk-io/ptpd/protocol"
	"github.com/clockwerk-io/ptpd/stats"
)

// populated via ldflags at build time
var (
	version = "dev"
	commit  = ""
	date    = ""
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "ptpd",
	Short:   "PTP ordinary clock daemon",
	Version: version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the state of a running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		return status(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/ptpd/ptpd.yaml", "config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}

type inMsg struct {
	idx  int
	data []byte
	ts   time.Time
}

type portFault struct {
	idx int
	err error
}

func run(cfg *config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)

	iface, err := net.InterfaceByName(cfg.Ports[0].Iface)
	if err != nil {
		return fmt.Errorf("looking up interface %q: %w", cfg.Ports[0].Iface, err)
	}
	clockID, err := ptp.NewClockIdentity(iface.HardwareAddr)
	if err != nil {
		return err
	}
	log.Infof("using ClockIdentity %s", clockID)

	clk := &clock.SysClock{}
	st := stats.NewStats()
	inst := instance.New(cfg.DefaultDS(clockID), clk, st)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	msgCh := make(chan inMsg, 64)
	faultCh := make(chan portFault, 8)

	reader := func(idx int, np network.Port) {
		go func() {
			for {
				pkt, err := np.Recv()
				if err != nil {
					select {
					case faultCh <- portFault{idx: idx, err: err}:
					case <-ctx.Done():
					}
					return
				}
				select {
				case msgCh <- inMsg{idx: idx, data: pkt.Data, ts: pkt.Timestamp}:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for idx, pc := range cfg.Ports {
		idx, pc := idx, pc
		desc := network.InterfaceDescriptor{Name: pc.Iface, Network: pc.Network}
		np, err := network.Open(desc)
		if err != nil {
			return fmt.Errorf("opening port on %s: %w", pc.Iface, err)
		}
		defer np.Close()
		opener := func() (network.Port, error) {
			reopened, err := network.Open(desc)
			if err != nil {
				return nil, err
			}
			reader(idx, reopened)
			return reopened, nil
		}
		if _, err := inst.AddPort(pc.PortDS(), np, opener); err != nil {
			return err
		}
		reader(idx, np)
	}

	started := time.Now()
	eg.Go(func() error {
		return serveMonitoring(ctx, cfg.MonitoringPort, st, inst, started)
	})

	eg.Go(func() error {
		inst.Start(time.Now())
		inst.Tick(time.Now())
		for {
			wake := time.NewTimer(time.Until(inst.NextWake()))
			select {
			case <-ctx.Done():
				wake.Stop()
				return ctx.Err()
			case m := <-msgCh:
				wake.Stop()
				inst.HandleMessage(m.idx, m.data, m.ts)
				inst.Tick(time.Now())
			case f := <-faultCh:
				wake.Stop()
				inst.FaultPort(f.idx, f.err)
			case <-wake.C:
				inst.Tick(time.Now())
			}
		}
	})

	err = eg.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// serveMonitoring exposes the Prometheus text exposition on /metrics and
// the dataset snapshot on /state
func serveMonitoring(ctx context.Context, port int, st *stats.Stats, inst *instance.Instance, started time.Time) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", st.Handler())
	mux.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		state := instance.ObservableState{
			Program: instance.ProgramData{
				Version:         version,
				BuildCommit:     commit,
				BuildCommitDate: date,
				UptimeSeconds:   time.Since(started).Seconds(),
			},
			Instance: inst.ObservableState(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(state); err != nil {
			log.Errorf("failed to encode state: %v", err)
		}
	})
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Infof("monitoring on :%d", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func status(cfg *config.Config) error {
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/state", cfg.MonitoringPort))
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()
	state := &instance.ObservableState{}
	if err := json.NewDecoder(resp.Body).Decode(state); err != nil {
		return err
	}
	fmt.Printf("%s %s, up %.0fs\n", color.CyanString("ptpd"), state.Program.Version, state.Program.UptimeSeconds)
	fmt.Printf("clock    %s domain %d\n", state.Instance.DefaultDS.ClockIdentity, state.Instance.DefaultDS.DomainNumber)
	fmt.Printf("gm       %s\n", state.Instance.ParentDS.GrandmasterIdentity)
	fmt.Printf("offset   %s\n", colorOffset(state.Instance.CurrentDS.OffsetFromMaster))
	fmt.Printf("delay    %dns\n", state.Instance.CurrentDS.MeanDelay)
	for _, p := range state.Instance.Ports {
		fmt.Printf("port %d   %s\n", p.PortIdentity.PortNumber, p.PortState)
	}
	return nil
}

func colorOffset(ns int64) string {
	abs := ns
	if abs < 0 {
		abs = -abs
	}
	s := fmt.Sprintf("%dns", ns)
	switch {
	case abs < 1000:
		return color.GreenString(s)
	case abs < 1000000:
		return color.YellowString(s)
	}
	return color.RedString(s)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
