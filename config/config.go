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

// Package config loads and validates the daemon configuration file.
package config

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"github.com/clockwerk-io/ptpd/datasets"
	ptp "github.com/clockwerk-io/ptpd/protocol"
)

// PortConfig describes one PTP port
type PortConfig struct {
	Iface                  string `yaml:"iface"`
	Network                string `yaml:"network"` // udp4 or udp6
	LogAnnounceInterval    int8   `yaml:"logannounceinterval"`
	LogSyncInterval        int8   `yaml:"logsyncinterval"`
	LogMinDelayReqInterval int8   `yaml:"logmindelayreqinterval"`
	AnnounceReceiptTimeout uint8  `yaml:"announcereceipttimeout"`
	DelayMechanism         string `yaml:"delaymechanism"` // only e2e is supported
	MasterOnly             bool   `yaml:"masteronly"`
}

// Config is the daemon configuration
type Config struct {
	LogLevel       string       `yaml:"loglevel"`
	Domain         uint8        `yaml:"domain"`
	Priority1      uint8        `yaml:"priority1"`
	Priority2      uint8        `yaml:"priority2"`
	SlaveOnly      bool         `yaml:"slaveonly"`
	TwoStep        bool         `yaml:"twostep"`
	ClockClass     uint8        `yaml:"clockclass"`
	ClockAccuracy  uint8        `yaml:"clockaccuracy"`
	MonitoringPort int          `yaml:"monitoringport"`
	Ports          []PortConfig `yaml:"ports"`
}

// Default returns the config all loads start from
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		Priority1:      128,
		Priority2:      128,
		TwoStep:        true,
		ClockClass:     uint8(ptp.ClockClassDefault),
		ClockAccuracy:  uint8(ptp.ClockAccuracyUnknown),
		MonitoringPort: 4269,
	}
}

// Load reads and validates a config file
func Load(path string) (*Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks invariants that would otherwise surface deep in the engine
func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("unknown loglevel %q", c.LogLevel)
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port must be configured")
	}
	for idx, p := range c.Ports {
		if p.Iface == "" {
			return fmt.Errorf("port %d: iface is required", idx)
		}
		switch p.Network {
		case "", "udp4", "udp6":
		default:
			return fmt.Errorf("port %d: network must be udp4 or udp6, got %q", idx, p.Network)
		}
		switch p.DelayMechanism {
		case "", "e2e", "E2E":
		case "p2p", "P2P", "common_p2p":
			return fmt.Errorf("port %d: delay mechanism %q is not implemented", idx, p.DelayMechanism)
		default:
			return fmt.Errorf("port %d: unknown delay mechanism %q", idx, p.DelayMechanism)
		}
	}
	if c.SlaveOnly && c.ClockClass != uint8(ptp.ClockClassSlaveOnly) {
		log.Warningf("slaveonly clock should advertise clockClass %d, got %d", ptp.ClockClassSlaveOnly, c.ClockClass)
	}
	return nil
}

// PortDS renders one port section into its dataset
func (p *PortConfig) PortDS() datasets.PortDS {
	ds := datasets.NewPortDS(ptp.PortIdentity{})
	ds.LogAnnounceInterval = ptp.LogInterval(p.LogAnnounceInterval)
	ds.LogSyncInterval = ptp.LogInterval(p.LogSyncInterval)
	ds.LogMinDelayReqInterval = ptp.LogInterval(p.LogMinDelayReqInterval)
	if p.AnnounceReceiptTimeout != 0 {
		ds.AnnounceReceiptTimeout = p.AnnounceReceiptTimeout
	}
	ds.MasterOnly = p.MasterOnly
	return ds
}

// DefaultDS renders the config into the clock's DefaultDS
func (c *Config) DefaultDS(clockID ptp.ClockIdentity) datasets.DefaultDS {
	return datasets.DefaultDS{
		TwoStepFlag:   c.TwoStep,
		ClockIdentity: clockID,
		ClockQuality: ptp.ClockQuality{
			ClockClass:              ptp.ClockClass(c.ClockClass),
			ClockAccuracy:           ptp.ClockAccuracy(c.ClockAccuracy),
			OffsetScaledLogVariance: 0xffff,
		},
		Priority1:    c.Priority1,
		Priority2:    c.Priority2,
		DomainNumber: c.Domain,
		SlaveOnly:    c.SlaveOnly,
	}
}
