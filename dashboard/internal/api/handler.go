package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stresslens/stresslens/dashboard/internal/auth"
	"github.com/stresslens/stresslens/dashboard/internal/chart"
	"github.com/stresslens/stresslens/dashboard/internal/compute"
	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/dashboard/internal/interpret"
	"github.com/stresslens/stresslens/dashboard/internal/loader"
	"github.com/stresslens/stresslens/dashboard/internal/metrics"
	"github.com/stresslens/stresslens/dashboard/internal/store"
	"github.com/stresslens/stresslens/pkg/types"
)

// ConfigFunc returns the configuration currently in effect. It is called on
// every request so that a hot-reloaded config applies without a restart.
type ConfigFunc func() *config.Config

// Options wires a Handler to its collaborators.
type Options struct {
	Config ConfigFunc
	Store  *store.Store

	// Metrics is optional. When set, requests are counted and /metrics is served.
	Metrics *metrics.Metrics

	// Stream is optional. When set it is mounted at /ws/stream.
	Stream http.Handler
}

// Handler is the HTTP handler for /api/v1/*, /metrics and /ws/stream.
// It reads tables through the store and returns JSON responses; chart
// endpoints return PNG images.
type Handler struct {
	cfg     ConfigFunc
	store   *store.Store
	metrics *metrics.Metrics
	router  chi.Router
	now     func() time.Time
}

// New creates a Handler and registers all routes.
func New(opts Options) *Handler {
	h := &Handler{
		cfg:     opts.Config,
		store:   opts.Store,
		metrics: opts.Metrics,
		now:     time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Get("/sources", h.listSources)
			r.Route("/sources/{id}", func(r chi.Router) {
				r.Get("/", h.getSource)
				r.Get("/changes", h.changes)
				r.Get("/extremes", h.extremes)
				r.Get("/means", h.means)
				r.Get("/pivot", h.pivot)
				r.Get("/counts", h.counts)
				r.Get("/attributes", h.attributes)
				r.Get("/interpretation", h.interpretation)
				r.Get("/profile/{subject}", h.profile)
				r.Get("/charts/changes.png", h.changesChart)
				r.Get("/charts/means.png", h.meansChart)
			})
			r.Get("/reference", h.reference)
			r.Get("/classifier", h.classifier)
		})
	})

	if opts.Stream != nil {
		r.With(h.authenticate).Handle("/ws/stream", opts.Stream)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// authenticate applies the API key check of the current config.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := h.cfg().Dashboard.Auth
		auth.APIKeyMiddleware(a.Mode, a.EffectiveHeader(), a.Key())(next).ServeHTTP(w, r)
	})
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Sources: len(h.cfg().Dashboard.Sources),
		Cached:  h.store.Count(),
		Time:    h.now().UTC(),
	})
}

// listSources returns GET /api/v1/sources, loading every configured table.
func (h *Handler) listSources(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, BuildSources(r.Context(), h.cfg(), h.store))
}

// getSource returns GET /api/v1/sources/{id}.
func (h *Handler) getSource(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	jsonResp(w, http.StatusOK, describe(src, res))
}

// changes returns GET /api/v1/sources/{id}/changes: one summary per
// (group, feature) with a defined percent change.
func (h *Handler) changes(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := ChangesResponse{Source: src.ID, GroupBy: sel.groupBy, Changes: []types.FeatureSummary{}}
	ms, hints := selectRows(res, sel)
	if hints == nil {
		resp.Changes = h.summarize(ms, sel.groupBy)
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// extremes returns GET /api/v1/sources/{id}/extremes: the biggest increase
// and decrease, optionally restricted to one group with ?group=.
func (h *Handler) extremes(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	group := r.URL.Query().Get("group")
	resp := ExtremesResponse{Source: src.ID, GroupBy: sel.groupBy, Group: group}
	ms, hints := selectRows(res, sel)
	if hints == nil {
		summaries := h.summarize(ms, sel.groupBy)
		var keep func(types.FeatureSummary) bool
		if group != "" {
			keep = compute.InGroup(group)
		}
		if ext, found := compute.Extremes(summaries, keep); found {
			resp.Extremes = &ext
		}
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// means returns GET /api/v1/sources/{id}/means: per-condition means, min-max
// normalized per feature when ?normalize=true.
func (h *Handler) means(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	normalize := false
	if v := r.URL.Query().Get("normalize"); v != "" {
		if normalize, err = strconv.ParseBool(v); err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid normalize %q", v))
			return
		}
	}

	resp := MeansResponse{Source: src.ID, GroupBy: sel.groupBy, Normalized: normalize, Means: []compute.ConditionMean{}}
	ms, hints := selectRows(res, sel)
	if hints == nil {
		resp.Means = compute.ConditionMeans(ms, sel.groupBy...)
		if normalize {
			resp.Means = compute.Normalize(resp.Means)
		}
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// pivot returns GET /api/v1/sources/{id}/pivot: the feature x group matrix
// of percent changes behind the heatmap.
func (h *Handler) pivot(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := PivotResponse{Source: src.ID, GroupBy: sel.groupBy}
	ms, hints := selectRows(res, sel)
	if hints == nil {
		resp.Pivot = compute.Pivot(h.summarize(ms, sel.groupBy))
	} else {
		resp.Pivot = compute.Pivot(nil)
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// counts returns GET /api/v1/sources/{id}/counts: the group x condition crosstab.
func (h *Handler) counts(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := CountsResponse{Source: src.ID, GroupBy: sel.groupBy}
	ms, hints := selectRows(res, sel)
	if hints == nil {
		resp.Counts = compute.Counts(ms, sel.groupBy...)
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// attributes returns GET /api/v1/sources/{id}/attributes: how many subjects
// carry each value of each categorical column, such as a regulation class.
func (h *Handler) attributes(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := AttributesResponse{Source: src.ID, Attributes: []compute.AttributeCount{}}
	hints := diagnose(res.Err)
	if hints == nil {
		resp.Attributes = compute.AttributeCounts(res.Attributes, sel.filter)
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// interpretation returns GET /api/v1/sources/{id}/interpretation?subject=S:
// the subject's changes, their extremes and the interpretation rules that fire.
func (h *Handler) interpretation(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	subject := r.URL.Query().Get("subject")
	if subject == "" {
		jsonErr(w, http.StatusBadRequest, "subject is required")
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	sel.groupBy = []types.Dimension{types.DimSubject}
	sel.filter.Subjects = []string{subject}

	resp := InterpretationResponse{
		Source:   src.ID,
		Subject:  subject,
		Changes:  []types.FeatureSummary{},
		Findings: []interpret.Finding{},
	}
	ms, hints := selectRows(res, sel)
	if hints == nil {
		resp.Changes = h.summarize(ms, sel.groupBy)
		if ext, found := compute.Extremes(resp.Changes, nil); found {
			resp.Extremes = &ext
		}
		if findings := interpret.New(h.cfg().Dashboard.Interpretation.Rules).Evaluate(resp.Changes); findings != nil {
			resp.Findings = findings
		}
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// profile returns GET /api/v1/sources/{id}/profile/{subject}: the subject's
// feature values grouped by signal family. ?prefix= overrides the families.
func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	subject := chi.URLParam(r, "subject")

	resp := ProfileResponse{
		Source:     src.ID,
		Subject:    subject,
		Groups:     []compute.ProfileGroup{},
		Attributes: []types.Attribute{},
	}
	hints := diagnose(res.Err)
	if hints == nil {
		groups, err := compute.Profile(res.Measurements, subject, splitList(r.URL.Query()["prefix"]))
		if err != nil {
			hints = diagnose(err)
		} else {
			resp.Groups = groups
			resp.Attributes = compute.SubjectAttributes(res.Attributes, subject)
		}
	}
	resp.Diagnostics = orEmpty(hints)
	jsonResp(w, http.StatusOK, resp)
}

// changesChart returns GET /api/v1/sources/{id}/charts/changes.png.
func (h *Handler) changesChart(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	width, height, err := chartSize(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ms, hints := selectRows(res, sel)
	if hints != nil {
		jsonResp(w, http.StatusOK, ChartResponse{Source: src.ID, Diagnostics: hints})
		return
	}
	png, err := chart.ChangeBars(h.summarize(ms, sel.groupBy), width, height)
	writePNG(w, src.ID, png, err)
}

// meansChart returns GET /api/v1/sources/{id}/charts/means.png?feature=F:
// baseline and stress means of one feature per group.
func (h *Handler) meansChart(w http.ResponseWriter, r *http.Request) {
	src, res, ok := h.table(w, r)
	if !ok {
		return
	}
	sel, err := parseSelection(r, src)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	feature := r.URL.Query().Get("feature")
	if feature == "" {
		jsonErr(w, http.StatusBadRequest, "feature is required")
		return
	}
	width, height, err := chartSize(r)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ms, hints := selectRows(res, sel)
	if hints != nil {
		jsonResp(w, http.StatusOK, ChartResponse{Source: src.ID, Diagnostics: hints})
		return
	}
	png, err := chart.ConditionBars(compute.ConditionMeans(ms, sel.groupBy...), feature, width, height)
	writePNG(w, src.ID, png, err)
}

// reference returns GET /api/v1/reference?HR_mean=85&...: every query value
// placed against its configured normal range.
func (h *Handler) reference(w http.ResponseWriter, r *http.Request) {
	values := make(map[string]float64)
	for k, vs := range r.URL.Query() {
		if k == auth.QueryParam || len(vs) == 0 {
			continue
		}
		v, err := strconv.ParseFloat(vs[0], 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, fmt.Sprintf("invalid value for %s: %q", k, vs[0]))
			return
		}
		values[k] = v
	}

	ranges := make(map[string]compute.Range, len(h.cfg().Dashboard.Reference))
	for feat, rg := range h.cfg().Dashboard.Reference {
		ranges[feat] = compute.Range{Min: rg.Min, Max: rg.Max, Label: rg.Label, Unit: rg.Unit}
	}
	jsonResp(w, http.StatusOK, ReferenceResponse{Assessments: compute.Assess(values, ranges)})
}

// classifier returns GET /api/v1/classifier: the classifier results document
// and its row-normalized confusion matrices.
func (h *Handler) classifier(w http.ResponseWriter, r *http.Request) {
	resp := ClassifierResponse{Models: []string{}, Normalized: map[string][][]float64{}}

	path := h.cfg().Dashboard.Classifier.ResultsPath
	if path == "" {
		resp.Diagnostics = []DiagnosticHint{{
			Key:    HintNotConfigured,
			Level:  "info",
			Title:  "No classifier results",
			Detail: "Set classifier.results_path to the analysis results JSON written by the classification step.",
		}}
		jsonResp(w, http.StatusOK, resp)
		return
	}

	results, err := loader.LoadResults(path)
	if err != nil {
		slog.Warn("api: classifier results unavailable", "path", path, "err", err)
		resp.Diagnostics = diagnose(err)
		jsonResp(w, http.StatusOK, resp)
		return
	}
	resp.Results = results
	resp.Models = results.ModelNames()
	for _, name := range resp.Models {
		resp.Normalized[name] = loader.NormalizeRows(results.ConfusionMatrices[name])
	}
	resp.Diagnostics = []DiagnosticHint{}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

// table resolves the {id} path parameter and returns the source's table.
// It writes a 404 and returns ok=false for an unknown id. Load failures are
// carried on Result.Err so callers can turn them into hints.
func (h *Handler) table(w http.ResponseWriter, r *http.Request) (config.Source, *loader.Result, bool) {
	id := chi.URLParam(r, "id")
	src, found := h.cfg().SourceByID(id)
	if !found {
		jsonErr(w, http.StatusNotFound, "source not found: "+id)
		return config.Source{}, nil, false
	}
	res, err := h.store.Get(r.Context(), src)
	if err != nil {
		slog.Warn("api: cannot load source", "source", id, "err", err)
		res = &loader.Result{SourceID: src.ID, Path: src.Path, Err: err}
	}
	return src, res, true
}

func (h *Handler) summarize(ms []types.Measurement, groupBy []types.Dimension) []types.FeatureSummary {
	out := compute.Summarize(ms, groupBy...)
	if h.metrics != nil {
		h.metrics.AddSummaries(len(out))
	}
	return out
}

// BuildSources loads every configured source through st and describes it.
// It backs GET /api/v1/sources and the WebSocket source broadcast.
func BuildSources(ctx context.Context, cfg *config.Config, st *store.Store) []SourceResponse {
	out := make([]SourceResponse, 0, len(cfg.Dashboard.Sources))
	for _, src := range cfg.Dashboard.Sources {
		res, err := st.Get(ctx, src)
		if err != nil {
			res = &loader.Result{SourceID: src.ID, Path: src.Path, Err: err}
		}
		out = append(out, describe(src, res))
	}
	return out
}

func describe(src config.Source, res *loader.Result) SourceResponse {
	resp := SourceResponse{
		ID:          src.ID,
		Path:        src.Path,
		Layout:      src.Layout,
		Features:    []string{},
		Dimensions:  []types.Dimension{},
		Subjects:    []string{},
		Datasets:    []string{},
		Diagnostics: orEmpty(diagnose(res.Err)),
	}
	if res.Err != nil {
		return resp
	}
	loaded := res.LoadedAt.UTC()
	resp.Diagnostics = orEmpty(invalidValues(res))
	resp.Layout = res.Layout
	resp.Rows = len(res.Measurements)
	resp.LoadedAt = &loaded
	if res.Features != nil {
		resp.Features = res.Features
	}
	if res.Dimensions != nil {
		resp.Dimensions = res.Dimensions
	}
	if res.HasDimension(types.DimSubject) {
		resp.Subjects = compute.Values(res.Measurements, types.DimSubject)
	}
	if res.HasDimension(types.DimDataset) {
		resp.Datasets = compute.Values(res.Measurements, types.DimDataset)
	}
	return resp
}

// selection is the parsed grouping and filter query of a request.
type selection struct {
	groupBy []types.Dimension
	filter  compute.Filter
}

// parseSelection reads group_by, dataset, subject and feature. Each may be
// repeated or comma-separated. Without group_by the source's default grouping
// applies, and group_by=none disables grouping. Without feature the source's
// default feature list applies.
func parseSelection(r *http.Request, src config.Source) (selection, error) {
	q := r.URL.Query()

	raw := src.GroupBy
	if vs, ok := q["group_by"]; ok {
		raw = splitList(vs)
	}
	sel := selection{groupBy: []types.Dimension{}}
	seen := make(map[types.Dimension]bool)
	for _, g := range raw {
		if strings.EqualFold(g, "none") {
			continue
		}
		d, err := types.ParseDimension(g)
		if err != nil {
			return selection{}, err
		}
		if !seen[d] {
			seen[d] = true
			sel.groupBy = append(sel.groupBy, d)
		}
	}

	sel.filter = compute.Filter{
		Datasets: splitList(q["dataset"]),
		Subjects: splitList(q["subject"]),
		Features: src.Features,
	}
	if vs, ok := q["feature"]; ok {
		sel.filter.Features = splitList(vs)
	}
	return sel, nil
}

// selectRows applies sel to a loaded table. Instead of rows it returns hints
// when the table failed to load, lacks a requested grouping key, or nothing
// matches the filter.
func selectRows(res *loader.Result, sel selection) ([]types.Measurement, []DiagnosticHint) {
	if res.Err != nil {
		return nil, diagnose(res.Err)
	}
	var missing []string
	for _, d := range sel.groupBy {
		if !res.HasDimension(d) {
			missing = append(missing, string(d))
		}
	}
	if len(missing) > 0 {
		return nil, diagnose(&loader.SchemaError{Path: res.Path, Missing: missing, Available: res.Header})
	}
	ms, err := compute.Select(res.Measurements, sel.filter)
	if err != nil {
		return nil, diagnose(err)
	}
	return ms, nil
}

// splitList flattens repeated and comma-separated query values, dropping blanks.
func splitList(vs []string) []string {
	var out []string
	for _, v := range vs {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

const maxChartSide = 4096

func chartSize(r *http.Request) (int, int, error) {
	width, height := chart.DefaultWidth, chart.DefaultHeight
	for _, p := range []struct {
		name string
		dst  *int
	}{{"width", &width}, {"height", &height}} {
		v := r.URL.Query().Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 100 || n > maxChartSide {
			return 0, 0, fmt.Errorf("invalid %s %q: want 100..%d", p.name, v, maxChartSide)
		}
		*p.dst = n
	}
	return width, height, nil
}

func writePNG(w http.ResponseWriter, sourceID string, png []byte, err error) {
	if errors.Is(err, chart.ErrNoData) {
		jsonResp(w, http.StatusOK, ChartResponse{Source: sourceID, Diagnostics: diagnose(compute.ErrEmptySelection)})
		return
	}
	if err != nil {
		slog.Error("api: chart render failed", "source", sourceID, "err", err)
		jsonErr(w, http.StatusInternalServerError, "chart render failed")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png) //nolint:errcheck
}

func orEmpty(hints []DiagnosticHint) []DiagnosticHint {
	if hints == nil {
		return []DiagnosticHint{}
	}
	return hints
}

// jsonResp encodes v before writing the status so that an encoding failure
// still reaches the client as a 500.
func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		slog.Error("api: encode response failed", "err", err)
		code = http.StatusInternalServerError
		buf.Reset()
		json.NewEncoder(&buf).Encode(errorResponse{Error: "response encoding failed"}) //nolint:errcheck
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(buf.Bytes()) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
