// Package capture extracts outbound DNS query names and their capture timestamps from packet
// captures. It only understands classic pcap files carrying DNS over UDP; everything else in the
// capture is skipped.
package capture

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/miekg/dns"
)

// dnsPorts are the UDP ports whose payloads are decoded as DNS messages (unicast DNS and mDNS).
var dnsPorts = map[layers.UDPPort]bool{
	53:   true,
	5353: true,
}

// Observation is a single DNS query seen in a capture.
type Observation struct {
	Domain string
	Time   time.Time
}

// Open reads every query observation from the pcap file at path.
func Open(path string) ([]Observation, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: error opening capture: path=%s err=%w", path, err)
	}
	defer file.Close()

	return ReadPcap(file)
}

// ReadPcap reads query observations from a pcap stream in capture order. Responses, questionless
// messages, and packets that do not decode as DNS are skipped. Timestamps are converted to local
// time.
func ReadPcap(r io.Reader) ([]Observation, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture: error reading pcap header: err=%w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	var observations []Observation

	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return observations, nil
		}
		if err != nil {
			return observations, fmt.Errorf("capture: error reading packet: index=%d err=%w", len(observations), err)
		}

		if observation, ok := queryFromPacket(packet); ok {
			observations = append(observations, observation)
		}
	}
}

// queryFromPacket extracts the first question of a DNS query carried in a UDP datagram.
func queryFromPacket(packet gopacket.Packet) (Observation, bool) {
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || !(dnsPorts[udp.SrcPort] || dnsPorts[udp.DstPort]) {
		return Observation{}, false
	}

	msg := new(dns.Msg)
	if err := msg.Unpack(udp.Payload); err != nil {
		return Observation{}, false
	}

	if msg.Response || len(msg.Question) == 0 {
		return Observation{}, false
	}

	return Observation{
		Domain: strings.TrimSuffix(msg.Question[0].Name, "."),
		Time:   packet.Metadata().Timestamp.Local(),
	}, true
}
