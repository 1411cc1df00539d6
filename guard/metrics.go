package guard

import (
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Authorization paths reported to an Observer.
const (
	PathAutoAllowed     = "auto"
	PathPolicyAllowed   = "policy"
	PathTaskOverride    = "task_override"
	PathGlobalOverride  = "global_override"
	PathHumanApproved   = "human_approved"
	PathHumanDenied     = "human_denied"
	PathApprovalFailure = "approval_error"
)

// Observer captures gate telemetry.
type Observer interface {
	RecordClassification(tool string, risk RiskLevel)
	RecordAuthorization(risk RiskLevel, path string)
	RecordApprovalWait(risk RiskLevel, wait time.Duration, err error)
}

type PrometheusObserver struct {
	classifications *prometheus.CounterVec
	authorizations  *prometheus.CounterVec
	approvalWait    *prometheus.HistogramVec
}

// NewPrometheusObserver registers the gate collectors on reg (default
// registerer when nil). Re-registering reuses the existing collectors.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "clawdia_gate"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Tool invocations classified, by tool and risk.",
		}, []string{"tool", "risk"}),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_total",
			Help:      "Authorization outcomes, by risk and decision path.",
		}, []string{"risk", "path"}),
		approvalWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_wait_seconds",
			Help:      "Time spent waiting on a human approval.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 90, 180},
		}, []string{"risk", "status"}),
	}

	if err := registerCollector(reg, &o.classifications); err != nil {
		return nil, err
	}
	if err := registerCollector(reg, &o.authorizations); err != nil {
		return nil, err
	}
	if err := registerCollector(reg, &o.approvalWait); err != nil {
		return nil, err
	}
	return o, nil
}

func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c *T) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return fmt.Errorf("register gate metric: %w", err)
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return fmt.Errorf("register gate metric: conflicting collector type %T", are.ExistingCollector)
		}
		*c = existing
	}
	return nil
}

func (o *PrometheusObserver) RecordClassification(tool string, risk RiskLevel) {
	if o == nil {
		return
	}
	o.classifications.WithLabelValues(toolLabel(tool), string(risk)).Inc()
}

// toolLabel keeps the tool label bounded: the gate's named tools pass
// through, other browser tools collapse to "browser", the rest to "other".
func toolLabel(tool string) string {
	switch tool {
	case ToolShellExec, ToolFileWrite, ToolFileEdit, ToolActionExecutePlan, ToolBrowserBatch, ToolBrowserInteract:
		return tool
	}
	if strings.HasPrefix(tool, browserToolPrefix) {
		return "browser"
	}
	return "other"
}

func (o *PrometheusObserver) RecordAuthorization(risk RiskLevel, path string) {
	if o == nil {
		return
	}
	o.authorizations.WithLabelValues(string(risk), path).Inc()
}

func (o *PrometheusObserver) RecordApprovalWait(risk RiskLevel, wait time.Duration, err error) {
	if o == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.approvalWait.WithLabelValues(string(risk), status).Observe(wait.Seconds())
}

type nopObserver struct{}

func (nopObserver) RecordClassification(string, RiskLevel) {}

func (nopObserver) RecordAuthorization(RiskLevel, string) {}

func (nopObserver) RecordApprovalWait(RiskLevel, time.Duration, error) {}
