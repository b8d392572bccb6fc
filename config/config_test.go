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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ptpd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
loglevel: debug
domain: 12
priority1: 10
slaveonly: true
clockclass: 255
ports:
  - iface: eth0
    logannounceinterval: 0
    logsyncinterval: -1
    announcereceipttimeout: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, uint8(12), cfg.Domain)
	assert.Equal(t, uint8(10), cfg.Priority1)
	assert.Equal(t, uint8(128), cfg.Priority2) // default kept
	assert.True(t, cfg.SlaveOnly)
	require.Len(t, cfg.Ports, 1)

	ds := cfg.Ports[0].PortDS()
	assert.Equal(t, ptp.LogInterval(0), ds.LogAnnounceInterval)
	assert.Equal(t, ptp.LogInterval(-1), ds.LogSyncInterval)
	assert.Equal(t, uint8(5), ds.AnnounceReceiptTimeout)

	def := cfg.DefaultDS(0xabc)
	assert.Equal(t, ptp.ClockIdentity(0xabc), def.ClockIdentity)
	assert.Equal(t, ptp.ClockClassSlaveOnly, def.ClockQuality.ClockClass)
	assert.True(t, def.SlaveOnly)
	assert.Equal(t, uint8(12), def.DomainNumber)
}

func TestLoadRejectsP2P(t *testing.T) {
	path := writeConfig(t, `
ports:
  - iface: eth0
    delaymechanism: p2p
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not implemented")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
ports:
  - iface: eth0
bogus: true
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	c := Default()
	require.Error(t, c.Validate()) // no ports

	c.Ports = []PortConfig{{Iface: ""}}
	require.Error(t, c.Validate())

	c.Ports = []PortConfig{{Iface: "eth0", Network: "tcp"}}
	require.Error(t, c.Validate())

	c.Ports = []PortConfig{{Iface: "eth0"}}
	require.NoError(t, c.Validate())

	c.LogLevel = "noisy"
	require.Error(t, c.Validate())
}
