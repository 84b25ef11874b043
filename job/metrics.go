/*
Copyright © 2025 Jayson Grace <jayson.e.grace@gmail.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/

package job

import (
	"github.com/cowdogmoo/foundry/builder"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the job counters. A nil *Metrics records nothing.
type Metrics struct {
	Started          *prometheus.CounterVec
	Statuses         *prometheus.CounterVec
	Live             prometheus.Gauge
	TeardownWarnings prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foundry_jobs_started_total",
			Help: "Operations started, by operation and target.",
		}, []string{"operation", "target"}),
		Statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foundry_job_status_total",
			Help: "Committed status changes, by new status.",
		}, []string{"status"}),
		Live: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "foundry_jobs_live",
			Help: "Jobs in the registry.",
		}),
		TeardownWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "foundry_teardown_warnings_total",
			Help: "Ephemeral resources that could not be torn down.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Started, m.Statuses, m.Live, m.TeardownWarnings)
	}
	return m
}

func (m *Metrics) jobStarted(op Operation, target string) {
	if m == nil {
		return
	}
	m.Started.WithLabelValues(string(op), target).Inc()
}

func (m *Metrics) statusReached(s builder.Status) {
	if m == nil {
		return
	}
	m.Statuses.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) live(n int) {
	if m == nil {
		return
	}
	m.Live.Set(float64(n))
}

func (m *Metrics) teardownWarnings(n int) {
	if m == nil || n == 0 {
		return
	}
	m.TeardownWarnings.Add(float64(n))
}
