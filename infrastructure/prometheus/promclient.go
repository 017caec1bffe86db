package promclient

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var OpenOrderBooksGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "bookhub_open_order_books",
		Help: "symbols with reconciled book state",
	},
)

var OpenHandlesGauge = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "bookhub_open_subscription_handles",
		Help: "open hub subscription handles",
	},
)

var BooksEmittedCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bookhub_books_emitted_total",
		Help: "reconciled full books delivered to user callbacks",
	},
)

var DroppedFramesCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bookhub_dropped_frames_total",
		Help: "inbound frames dropped on decode or parse failure",
	},
)

var ReconnectsCounter = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "bookhub_reconnects_total",
		Help: "completed hub reconnects",
	},
)

func StartPromClientServer(addr string) {
	reg := prometheus.NewRegistry()
	promHandler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	reg.MustRegister(OpenOrderBooksGauge)
	reg.MustRegister(OpenHandlesGauge)
	reg.MustRegister(BooksEmittedCounter)
	reg.MustRegister(DroppedFramesCounter)
	reg.MustRegister(ReconnectsCounter)
	reg.MustRegister(collectors.NewGoCollector())

	http.Handle("/metrics", promHandler)
	log.Printf("prometheus server listening at %s", addr)

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
