package muxlinkd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/muxlink/muxlink/pkg/muxlink"
)

const metricsNamespace = "muxlink"

// connGauges are per-connection counters, summed across live connections
// at scrape time. They can move backwards when a connection is replaced;
// per-connection values are in /v1/status.
var connGauges = []struct {
	name string
	help string
	get  func(muxlink.ConnStats) float64
}{
	{"tx_bytes", "Channel data bytes sent.", func(s muxlink.ConnStats) float64 { return float64(s.TxBytes) }},
	{"rx_bytes", "Channel data bytes received.", func(s muxlink.ConnStats) float64 { return float64(s.RxBytes) }},
	{"tx_packets", "Frames of any type sent.", func(s muxlink.ConnStats) float64 { return float64(s.TxPackets) }},
	{"rx_packets", "Frames of any type received.", func(s muxlink.ConnStats) float64 { return float64(s.RxPackets) }},
	{"tx_pings", "Keepalive pings sent.", func(s muxlink.ConnStats) float64 { return float64(s.TxPings) }},
	{"rx_pings", "Keepalive pings received.", func(s muxlink.ConnStats) float64 { return float64(s.RxPings) }},
	{"discarded", "Data frames dropped for lack of a destination channel.", func(s muxlink.ConnStats) float64 { return float64(s.Discarded) }},
	{"channels_active", "Channels currently open.", func(s muxlink.ConnStats) float64 { return float64(s.ActiveChannels) }},
	{"channels_opened", "Channels opened locally.", func(s muxlink.ConnStats) float64 { return float64(s.ChannelsOpened) }},
	{"channels_accepted", "Channels opened by peers.", func(s muxlink.ConnStats) float64 { return float64(s.ChannelsAccepted) }},
	{"channels_refused", "Peer channel opens refused.", func(s muxlink.ConnStats) float64 { return float64(s.ChannelsRefused) }},
	{"pending_opens", "Local opens awaiting the peer's first response.", func(s muxlink.ConnStats) float64 { return float64(s.PendingOpens) }},
}

// newMetricsRegistry exposes the daemon's counters for scraping.
func (d *Daemon) newMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "daemon",
		Name:      "connections",
		Help:      "Live transport connections.",
	}, func() float64 {
		return float64(len(d.connStatus()))
	}))
	for _, g := range connGauges {
		g := g
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "conn",
			Name:      g.name,
			Help:      g.help,
		}, func() float64 {
			var total float64
			for _, st := range d.connStatus() {
				total += g.get(st.Stats)
			}
			return total
		}))
	}
	if d.client != nil {
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "dial_attempts_total",
			Help:      "Transport dial attempts.",
		}, func() float64 {
			return float64(d.client.Status().DialAttempts)
		}))
		reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "client",
			Name:      "dial_failures_total",
			Help:      "Failed transport dial attempts.",
		}, func() float64 {
			return float64(d.client.Status().DialFailures)
		}))
	}
	return reg
}
