package metrics

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// labelNames is the fixed label set of every counter vector. Tags outside
// it are ignored; missing tags are exported as "".
var labelNames = []string{TagMethod, TagIntegrationName}

// Prometheus records counters as CounterVecs registered on a caller
// supplied registerer.
type Prometheus struct {
	reg prometheus.Registerer

	mu   sync.Mutex
	vecs map[string]*prometheus.CounterVec
}

// NewPrometheus creates a recorder registering on reg. A nil reg uses the
// default registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Prometheus{
		reg:  reg,
		vecs: make(map[string]*prometheus.CounterVec),
	}
}

// Increment implements Recorder
func (p *Prometheus) Increment(_ context.Context, name string, tags map[string]string) {
	values := make([]string, len(labelNames))
	for i, l := range labelNames {
		values[i] = tags[l]
	}
	p.vec(name).WithLabelValues(values...).Inc()
}

func (p *Prometheus) vec(name string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v, ok := p.vecs[name]; ok {
		return v
	}
	v := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: PrometheusName(name),
		Help: "Total number of " + strings.ReplaceAll(name, ".", " ") + " events",
	}, labelNames)
	if err := p.reg.Register(v); err != nil {
		// another recorder on the same registry owns the vector
		var are prometheus.AlreadyRegisteredError
		if stderrors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				v = existing
			}
		}
	}
	p.vecs[name] = v
	return v
}

// PrometheusName converts a dotted metric name into a Prometheus counter
// name, e.g. "trackhub.invoke.error" -> "trackhub_invoke_error_total".
func PrometheusName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name) + "_total"
}
