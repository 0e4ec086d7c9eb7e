package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveClients       = "NumActiveClients"
	ActiveRooms         = "NumActiveRooms"
	MessagesSent        = "NumMessagesSent"
	TradeOffersCreated  = "NumTradeOffersCreated"
	TradeOffersAccepted = "NumTradeOffersAccepted"
	TradeOffersDeclined = "NumTradeOffersDeclined"
)

const publishedName = "swapchat-stats"

var publishOnce sync.Once

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

// StatsUpdater keeps expvar counters. Updates are queued and applied by a
// single goroutine started with Run.
type StatsUpdater struct {
	vars     *expvar.Map
	updates  chan metricDelta
	done     chan struct{}
	stopOnce sync.Once
}

type metricDelta struct {
	name  string
	delta int64
}

// NewStatsUpdater creates a stats updater and registers its handler on
// GET /debug/vars.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:    new(expvar.Map).Init(),
		updates: make(chan metricDelta, 512),
		done:    make(chan struct{}),
	}

	started := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(started).Milliseconds()
	}))

	mux.HandleFunc("GET /debug/vars", su.serveVars)

	// expvar panics on duplicate names, only the first updater is exported
	// process-wide
	publishOnce.Do(func() {
		expvar.Publish(publishedName, su.vars)
	})

	return su
}

func (su *StatsUpdater) serveVars(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(su.Snapshot())
}

// Snapshot returns the current value of every metric.
func (su *StatsUpdater) Snapshot() map[string]any {
	data := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		data[kv.Key] = value
	})

	return data
}

func (su *StatsUpdater) apply(d metricDelta) {
	if metric, ok := su.vars.Get(d.name).(*expvar.Int); ok {
		metric.Add(d.delta)
	}
}

// drain applies every queued update without blocking.
func (su *StatsUpdater) drain() {
	for {
		select {
		case d := <-su.updates:
			su.apply(d)
		default:
			return
		}
	}
}

func (su *StatsUpdater) queue(name string, delta int64) {
	select {
	case su.updates <- metricDelta{name: name, delta: delta}:
	case <-su.done:
	}
}

func (su *StatsUpdater) Incr(name string) { su.queue(name, 1) }

func (su *StatsUpdater) Decr(name string) { su.queue(name, -1) }

// RegisterMetric adds a counter starting at zero. Updates to names that were
// never registered are ignored.
func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go func() {
		for {
			select {
			case d := <-su.updates:
				su.apply(d)
			case <-su.done:
				su.drain()
				return
			}
		}
	}()
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.done)
	})
}
