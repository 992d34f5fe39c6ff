package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	salesTotal      prometheus.Counter
	fiscalDocuments *prometheus.CounterVec
	printJobs       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		salesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caixafacil_sales_total",
			Help: "Committed sales.",
		}),
		fiscalDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caixafacil_fiscal_documents_total",
			Help: "Fiscal issuance attempts by document kind and outcome.",
		}, []string{"kind", "outcome"}),
		printJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caixafacil_print_jobs_total",
			Help: "Print dispatch results by routing tier and result code.",
		}, []string{"tier", "code"}),
	}
	m.registry.MustRegister(m.salesTotal, m.fiscalDocuments, m.printJobs)
	return m
}

func (m *Metrics) SaleCommitted() {
	if m == nil {
		return
	}
	m.salesTotal.Inc()
}

func (m *Metrics) FiscalDocument(kind string, outcome string) {
	if m == nil {
		return
	}
	m.fiscalDocuments.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) PrintJob(tier string, code string) {
	if m == nil {
		return
	}
	if tier == "" {
		tier = "none"
	}
	m.printJobs.WithLabelValues(tier, code).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
