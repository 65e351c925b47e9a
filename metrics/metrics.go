/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package metrics exposes per-peer PeerStats and lifecycle counters
// as Prometheus collectors. Registration is pull-based: Collect reads
// the source's atomic counters on demand, so nothing on the packet
// fast path ever touches a Prometheus type directly.
//
// Serving the collected metrics over HTTP (a /metrics endpoint) is
// the embedding binary's job; this package only implements
// prometheus.Collector.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Source is anything that can report a stats snapshot under a stable
// id (a Peer, in practice).
type Source interface {
	ID() string
	Snapshot() (txBytes, rxBytes, txPackets, rxPackets, dropped uint64)
	Refcount() int64
	QueueDepths() (tx, rx int)
}

// Collector implements prometheus.Collector over a dynamic set of
// registered Sources.
type Collector struct {
	mu      sync.Mutex
	sources map[string]Source

	txBytes   *prometheus.Desc
	rxBytes   *prometheus.Desc
	txPackets *prometheus.Desc
	rxPackets *prometheus.Desc
	dropped   *prometheus.Desc
	refcount  *prometheus.Desc
	txQueue   *prometheus.Desc
	rxQueue   *prometheus.Desc
}

// NewCollector builds an empty Collector. Register peers with
// Register as they're constructed.
func NewCollector() *Collector {
	label := []string{"peer"}
	return &Collector{
		sources:   make(map[string]Source),
		txBytes:   prometheus.NewDesc("dco_peer_tx_bytes_total", "Bytes transmitted to this peer.", label, nil),
		rxBytes:   prometheus.NewDesc("dco_peer_rx_bytes_total", "Bytes received from this peer.", label, nil),
		txPackets: prometheus.NewDesc("dco_peer_tx_packets_total", "Packets transmitted to this peer.", label, nil),
		rxPackets: prometheus.NewDesc("dco_peer_rx_packets_total", "Packets received from this peer.", label, nil),
		dropped:   prometheus.NewDesc("dco_peer_dropped_packets_total", "Packets dropped for this peer.", label, nil),
		refcount:  prometheus.NewDesc("dco_peer_refcount", "Current reference count of this peer.", label, nil),
		txQueue:   prometheus.NewDesc("dco_peer_tx_queue_depth", "Outbound queue depth.", label, nil),
		rxQueue:   prometheus.NewDesc("dco_peer_rx_queue_depth", "Inbound queue depth.", label, nil),
	}
}

// Register makes s visible to future Collect calls.
func (c *Collector) Register(s Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[s.ID()] = s
}

// Unregister removes the source with the given id, called once a
// peer has been released.
func (c *Collector) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sources, id)
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.txBytes
	ch <- c.rxBytes
	ch <- c.txPackets
	ch <- c.rxPackets
	ch <- c.dropped
	ch <- c.refcount
	ch <- c.txQueue
	ch <- c.rxQueue
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	sources := make([]Source, 0, len(c.sources))
	for _, s := range c.sources {
		sources = append(sources, s)
	}
	c.mu.Unlock()

	for _, s := range sources {
		id := s.ID()
		tx, rx, txp, rxp, drop := s.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.txBytes, prometheus.CounterValue, float64(tx), id)
		ch <- prometheus.MustNewConstMetric(c.rxBytes, prometheus.CounterValue, float64(rx), id)
		ch <- prometheus.MustNewConstMetric(c.txPackets, prometheus.CounterValue, float64(txp), id)
		ch <- prometheus.MustNewConstMetric(c.rxPackets, prometheus.CounterValue, float64(rxp), id)
		ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(drop), id)
		ch <- prometheus.MustNewConstMetric(c.refcount, prometheus.GaugeValue, float64(s.Refcount()), id)
		txq, rxq := s.QueueDepths()
		ch <- prometheus.MustNewConstMetric(c.txQueue, prometheus.GaugeValue, float64(txq), id)
		ch <- prometheus.MustNewConstMetric(c.rxQueue, prometheus.GaugeValue, float64(rxq), id)
	}
}
