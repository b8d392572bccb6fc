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

// Package network carries PTP packets over UDP multicast and delivers
// them together with their ingress timestamps. The engine itself only
// sees the Port interface; tests plug in a fake.
package network

import (
	"net"
	"time"
)

// Multicast groups, section C.3/D.3
var (
	MulticastPrimaryIPv4 = net.ParseIP("224.0.1.129")
	MulticastPdelayIPv4  = net.ParseIP("224.0.0.107")
	MulticastPrimaryIPv6 = net.ParseIP("FF0E::181")
	MulticastPdelayIPv6  = net.ParseIP("FF02::6B")
)

// Packet is one received PTP payload plus its ingress timestamp
type Packet struct {
	Data      []byte
	Timestamp time.Time
}

// Port is the pair of sockets (event 319, general 320) of one PTP port
type Port interface {
	// Send transmits b on the general socket
	Send(b []byte) error
	// SendTimeCritical transmits b on the event socket and returns the
	// egress timestamp of the packet
	SendTimeCritical(b []byte) (time.Time, error)
	// Recv blocks until the next packet from either socket
	Recv() (*Packet, error)
	Close() error
}

// InterfaceDescriptor tells Open where to bind
type InterfaceDescriptor struct {
	// Name of the network interface, e.g. eth0
	Name string
	// Network is either udp4 or udp6
	Network string
}
