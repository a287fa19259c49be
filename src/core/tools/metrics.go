package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agentrag",
	Subsystem: "tools",
	Name:      "invocations_total",
	Help:      "Tool calls by tool and outcome.",
}, []string{"tool", "outcome"})
