package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	heartbeatsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnoded_heartbeats_total",
		Help: "Device heartbeats accepted.",
	})

	generationPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnoded_generation_pushes_total",
		Help: "Device generation pushes accepted, by axis.",
	}, []string{"axis"})

	generationAllowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xnoded_generation_allows_total",
		Help: "Operator generation allowances, by axis.",
	}, []string{"axis"})

	deviceAuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnoded_device_auth_failures_total",
		Help: "Device requests rejected for a bad MAC.",
	})

	provisionFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xnoded_provision_failures_total",
		Help: "Unit provisioning attempts the fleet controller rejected.",
	})
)
