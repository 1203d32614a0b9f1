package metrics

import (
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// Metric names exposed on /metrics.
const (
	NameRequests   = "stresslens_http_requests_total"
	NameSummaries  = "stresslens_summaries_computed_total"
	NameLoads      = "stresslens_table_loads_total"
	NameCacheHits  = "stresslens_cache_hits_total"
	NameCacheMiss  = "stresslens_cache_misses_total"
	NameSourceRows = "stresslens_source_measurements"
	NameWSClients  = "stresslens_ws_clients"
)

type requestKey struct {
	route string
	code  int
}

// Metrics collects dashboard counters and renders them in the Prometheus
// text exposition format. Gauges and cache counters are read from provider
// funcs at scrape time. Metrics is safe for concurrent use.
type Metrics struct {
	mu        sync.Mutex
	requests  map[requestKey]uint64
	summaries uint64

	cacheStats func() (hits, misses, loads uint64)
	sourceRows func() map[string]int
	clients    func() int
}

// New returns an empty Metrics.
func New() *Metrics {
	return &Metrics{requests: make(map[requestKey]uint64)}
}

// ObserveRequest counts one served request for route with status code.
func (m *Metrics) ObserveRequest(route string, code int) {
	m.mu.Lock()
	m.requests[requestKey{route, code}]++
	m.mu.Unlock()
}

// AddSummaries counts n computed change summaries.
func (m *Metrics) AddSummaries(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	m.summaries += uint64(n)
	m.mu.Unlock()
}

// SetCacheStats registers the provider of cache hit, miss and load counts.
func (m *Metrics) SetCacheStats(fn func() (hits, misses, loads uint64)) {
	m.mu.Lock()
	m.cacheStats = fn
	m.mu.Unlock()
}

// SetSourceRows registers the provider of measurement counts per source.
func (m *Metrics) SetSourceRows(fn func() map[string]int) {
	m.mu.Lock()
	m.sourceRows = fn
	m.mu.Unlock()
}

// SetClients registers the provider of the connected WebSocket client count.
func (m *Metrics) SetClients(fn func() int) {
	m.mu.Lock()
	m.clients = fn
	m.mu.Unlock()
}

// Families builds the current metric families, sorted by name.
func (m *Metrics) Families() []*dto.MetricFamily {
	m.mu.Lock()
	reqs := make(map[requestKey]uint64, len(m.requests))
	for k, v := range m.requests {
		reqs[k] = v
	}
	summaries := m.summaries
	cacheStats, sourceRows, clients := m.cacheStats, m.sourceRows, m.clients
	m.mu.Unlock()

	var fams []*dto.MetricFamily

	reqFam := family(NameRequests, "HTTP requests served, by route pattern and status code.", dto.MetricType_COUNTER)
	keys := make([]requestKey, 0, len(reqs))
	for k := range reqs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].route != keys[j].route {
			return keys[i].route < keys[j].route
		}
		return keys[i].code < keys[j].code
	})
	for _, k := range keys {
		reqFam.Metric = append(reqFam.Metric, counter(float64(reqs[k]),
			label("code", strconv.Itoa(k.code)), label("route", k.route)))
	}
	fams = append(fams, reqFam)

	sumFam := family(NameSummaries, "Change summary records computed for API responses.", dto.MetricType_COUNTER)
	sumFam.Metric = []*dto.Metric{counter(float64(summaries))}
	fams = append(fams, sumFam)

	if cacheStats != nil {
		hits, misses, loads := cacheStats()
		for _, c := range []struct {
			name, help string
			v          uint64
		}{
			{NameCacheHits, "Table requests served from the cache.", hits},
			{NameCacheMiss, "Table requests that required a load.", misses},
			{NameLoads, "Completed table loads.", loads},
		} {
			f := family(c.name, c.help, dto.MetricType_COUNTER)
			f.Metric = []*dto.Metric{counter(float64(c.v))}
			fams = append(fams, f)
		}
	}

	if sourceRows != nil {
		rows := sourceRows()
		ids := make([]string, 0, len(rows))
		for id := range rows {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		f := family(NameSourceRows, "Measurements held per cached source.", dto.MetricType_GAUGE)
		for _, id := range ids {
			f.Metric = append(f.Metric, gauge(float64(rows[id]), label("source", id)))
		}
		fams = append(fams, f)
	}

	if clients != nil {
		f := family(NameWSClients, "Connected WebSocket clients.", dto.MetricType_GAUGE)
		f.Metric = []*dto.Metric{gauge(float64(clients()))}
		fams = append(fams, f)
	}

	sort.Slice(fams, func(i, j int) bool { return fams[i].GetName() < fams[j].GetName() })
	return fams
}

// Encode encodes all families to w in the text exposition format.
func (m *Metrics) Encode(w io.Writer) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, f := range m.Families() {
		if err := enc.Encode(f); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the metrics.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		if err := m.Encode(w); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

// Middleware counts every request under its chi route pattern, so ids in
// paths do not create new series. Unmatched requests count as "unmatched".
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.ObserveRequest(route, code)
	})
}

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: ptr(name), Help: ptr(help), Type: typ.Enum()}
}

func counter(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Counter: &dto.Counter{Value: ptr(v)}}
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{Label: labels, Gauge: &dto.Gauge{Value: ptr(v)}}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: ptr(name), Value: ptr(value)}
}

func ptr[T any](v T) *T { return &v }
