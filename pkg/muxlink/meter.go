package muxlink

import (
	"sync"
	"sync/atomic"
)

// meterSet tracks transmitted and received totals per packet type.
type meterSet struct {
	m sync.Map // PacketType -> *meter
}

func (m *meterSet) Tx(pt PacketType, x int) uint64 {
	actual, _ := m.m.LoadOrStore(pt, new(meter))
	return actual.(*meter).Tx(x)
}

func (m *meterSet) Rx(pt PacketType, x int) uint64 {
	actual, _ := m.m.LoadOrStore(pt, new(meter))
	return actual.(*meter).Rx(x)
}

func (m *meterSet) Get(pt PacketType) (tx, rx uint64) {
	actual, ok := m.m.Load(pt)
	if !ok {
		return 0, 0
	}
	mt := actual.(*meter)
	return atomic.LoadUint64(&mt.tx), atomic.LoadUint64(&mt.rx)
}

type meter struct {
	rx, tx uint64
}

func (m *meter) Tx(x int) uint64 {
	return atomic.AddUint64(&m.tx, uint64(x))
}

func (m *meter) Rx(x int) uint64 {
	return atomic.AddUint64(&m.rx, uint64(x))
}

// ConnStats is a point-in-time snapshot of one connection's counters.
type ConnStats struct {
	// data payload bytes on the wire
	TxBytes uint64 `json:"tx_bytes"`
	RxBytes uint64 `json:"rx_bytes"`
	// frames of any type
	TxPackets uint64 `json:"tx_packets"`
	RxPackets uint64 `json:"rx_packets"`
	TxPings   uint64 `json:"tx_pings"`
	RxPings   uint64 `json:"rx_pings"`
	// data frames that had no live destination channel
	Discarded uint64 `json:"discarded"`

	ChannelsOpened   uint64 `json:"channels_opened"`
	ChannelsAccepted uint64 `json:"channels_accepted"`
	ChannelsRefused  uint64 `json:"channels_refused"`
	ActiveChannels   int    `json:"active_channels"`
	PendingOpens     int    `json:"pending_opens"`
}
