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

package network

import (
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	ptp "github.com/clockwerk-io/ptpd/protocol"
)

const readBufferSize = 1024

// UDPPort is a Port implementation over UDP multicast.
// RX timestamps come from the kernel when SO_TIMESTAMPNS is available,
// otherwise from reading the clock right after recvmsg. TX timestamps
// are software: the clock is read right after sendmsg.
type UDPPort struct {
	eventConn   *net.UDPConn
	generalConn *net.UDPConn
	eventDst    *net.UDPAddr
	generalDst  *net.UDPAddr
	packets     chan *Packet
	errs        chan error
	done        chan struct{}
}

// Open binds the two PTP sockets on the interface and joins the
// multicast groups
func Open(desc InterfaceDescriptor) (*UDPPort, error) {
	iface, err := net.InterfaceByName(desc.Name)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %q: %w", desc.Name, err)
	}
	network := desc.Network
	if network == "" {
		network = "udp4"
	}
	primary, pdelay := MulticastPrimaryIPv4, MulticastPdelayIPv4
	if network == "udp6" {
		primary, pdelay = MulticastPrimaryIPv6, MulticastPdelayIPv6
	}

	eventConn, err := net.ListenUDP(network, &net.UDPAddr{Port: ptp.PortEvent})
	if err != nil {
		return nil, fmt.Errorf("binding event socket: %w", err)
	}
	generalConn, err := net.ListenUDP(network, &net.UDPAddr{Port: ptp.PortGeneral})
	if err != nil {
		eventConn.Close()
		return nil, fmt.Errorf("binding general socket: %w", err)
	}

	for _, conn := range []*net.UDPConn{eventConn, generalConn} {
		if err := joinGroups(network, conn, iface, primary, pdelay); err != nil {
			eventConn.Close()
			generalConn.Close()
			return nil, err
		}
		if err := enableRXTimestamps(conn); err != nil {
			log.Warningf("no kernel RX timestamps on %s, falling back to software reads: %v", desc.Name, err)
		}
	}

	p := &UDPPort{
		eventConn:   eventConn,
		generalConn: generalConn,
		eventDst:    &net.UDPAddr{IP: primary, Port: ptp.PortEvent},
		generalDst:  &net.UDPAddr{IP: primary, Port: ptp.PortGeneral},
		packets:     make(chan *Packet, 16),
		errs:        make(chan error, 2),
		done:        make(chan struct{}),
	}
	go p.reader(eventConn)
	go p.reader(generalConn)
	return p, nil
}

func joinGroups(network string, conn *net.UDPConn, iface *net.Interface, groups ...net.IP) error {
	if network == "udp6" {
		pc := ipv6.NewPacketConn(conn)
		for _, g := range groups {
			if err := pc.JoinGroup(iface, &net.UDPAddr{IP: g}); err != nil {
				return fmt.Errorf("joining %s on %s: %w", g, iface.Name, err)
			}
		}
		return nil
	}
	pc := ipv4.NewPacketConn(conn)
	for _, g := range groups {
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: g}); err != nil {
			return fmt.Errorf("joining %s on %s: %w", g, iface.Name, err)
		}
	}
	return nil
}

func (p *UDPPort) reader(conn *net.UDPConn) {
	buf := make([]byte, readBufferSize)
	oob := make([]byte, 512)
	for {
		n, oobn, _, _, err := conn.ReadMsgUDP(buf, oob)
		if err != nil {
			select {
			case p.errs <- err:
			case <-p.done:
			}
			return
		}
		ts := rxTimestamp(oob[:oobn])
		if ts.IsZero() {
			ts = time.Now()
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case p.packets <- &Packet{Data: data, Timestamp: ts}:
		case <-p.done:
			return
		}
	}
}

// Send transmits b on the general socket
func (p *UDPPort) Send(b []byte) error {
	_, err := p.generalConn.WriteToUDP(b, p.generalDst)
	return err
}

// SendTimeCritical transmits b on the event socket and returns the egress timestamp
func (p *UDPPort) SendTimeCritical(b []byte) (time.Time, error) {
	_, err := p.eventConn.WriteToUDP(b, p.eventDst)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

// Recv blocks until the next packet from either socket
func (p *UDPPort) Recv() (*Packet, error) {
	select {
	case pkt := <-p.packets:
		return pkt, nil
	case err := <-p.errs:
		return nil, err
	case <-p.done:
		return nil, net.ErrClosed
	}
}

// Close shuts both sockets down
func (p *UDPPort) Close() error {
	close(p.done)
	err := p.eventConn.Close()
	if gerr := p.generalConn.Close(); err == nil {
		err = gerr
	}
	return err
}
