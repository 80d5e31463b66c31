package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests   *prometheus.CounterVec
	sessions   *prometheus.GaugeVec
	challenges *prometheus.CounterVec
	licenses   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wvserve",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "status"}),
		sessions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "wvserve",
			Name:      "open_sessions",
			Help:      "Open CDM sessions per device.",
		}, []string{"device"}),
		challenges: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wvserve",
			Name:      "license_challenges_total",
			Help:      "License challenges created per device and license type.",
		}, []string{"device", "license_type"}),
		licenses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wvserve",
			Name:      "licenses_parsed_total",
			Help:      "License responses parsed per device and result.",
		}, []string{"device", "result"}),
	}
}
