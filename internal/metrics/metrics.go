// Package metrics es el sidecar de observabilidad: un set de contadores
// atómicos alimentado por ganchos consultivos del pool y del handler, y un
// reporter periódico que loguea el snapshot. Los ganchos solo suman; nunca
// fallan, bloquean ni asignan.
package metrics

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	submits     atomic.Uint64
	submitsEst0 atomic.Uint64
	pops        atomic.Uint64

	requests     atomic.Uint64
	bytesTotal   atomic.Uint64
	errorsTotal  atomic.Uint64
	sumLatencyMS atomic.Uint64
)

// IncSubmit registra un job encolado (est<=0 cuenta como desconocido).
func IncSubmit(est int64) {
	submits.Inc()
	if est <= 0 {
		submitsEst0.Inc()
	}
}

// IncPop registra un job retirado por un worker.
func IncPop(est int64) {
	_ = est
	pops.Inc()
}

// RecordRequest registra una petición atendida.
func RecordRequest(latencyMS, bytes int64, status int) {
	requests.Inc()
	if bytes > 0 {
		bytesTotal.Add(uint64(bytes))
	}
	if latencyMS > 0 {
		sumLatencyMS.Add(uint64(latencyMS))
	}
	if status < 200 || status >= 400 {
		errorsTotal.Inc()
	}
}

// Snapshot es una lectura consistente-aproximada de los contadores.
type Snapshot struct {
	Submits     uint64
	SubmitsEst0 uint64
	Pops        uint64
	Requests    uint64
	Bytes       uint64
	Errors      uint64
	AvgLatency  float64 // ms
}

// Take devuelve el snapshot actual.
func Take() Snapshot {
	s := Snapshot{
		Submits:     submits.Load(),
		SubmitsEst0: submitsEst0.Load(),
		Pops:        pops.Load(),
		Requests:    requests.Load(),
		Bytes:       bytesTotal.Load(),
		Errors:      errorsTotal.Load(),
	}
	if s.Requests > 0 {
		s.AvgLatency = float64(sumLatencyMS.Load()) / float64(s.Requests)
	}
	return s
}

// Reset pone los contadores en cero. Solo para tests.
func Reset() {
	submits.Store(0)
	submitsEst0.Store(0)
	pops.Store(0)
	requests.Store(0)
	bytesTotal.Store(0)
	errorsTotal.Store(0)
	sumLatencyMS.Store(0)
}

// Reporter loguea el snapshot cada intervalo, con tasas calculadas sobre
// el delta (req/s, MB/s) y el porcentaje de submits sin estimación.
type Reporter struct {
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
	log      *zap.SugaredLogger
}

// StartReporter lanza el reporter en background. interval<=0 usa 5s.
func StartReporter(interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	r := &Reporter{
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		log:      zap.S().Named("metrics"),
	}
	go r.run()
	return r
}

func (r *Reporter) run() {
	defer close(r.done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	var prev Snapshot
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			s := Take()
			secs := r.interval.Seconds()
			est0Pct := 0.0
			if s.Submits > 0 {
				est0Pct = float64(s.SubmitsEst0) / float64(s.Submits) * 100
			}
			r.log.Infow("snapshot",
				"requests_total", s.Requests,
				"req_per_s", float64(s.Requests-prev.Requests)/secs,
				"mb_per_s", float64(s.Bytes-prev.Bytes)/(1024*1024)/secs,
				"avg_latency_ms", s.AvgLatency,
				"errors", s.Errors,
				"submits", s.Submits,
				"est0_pct", est0Pct,
				"pops", s.Pops,
			)
			prev = s
		}
	}
}

// Stop detiene el reporter y espera a que termine.
func (r *Reporter) Stop() {
	close(r.stop)
	<-r.done
}
