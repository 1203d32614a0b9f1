package loader

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stresslens/stresslens/dashboard/internal/config"
	"github.com/stresslens/stresslens/pkg/types"
)

var defaultConds = config.ConditionsConfig{
	Baseline: []string{"baseline"},
	Stress:   []string{"stress"},
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func load(t *testing.T, src config.Source) *Result {
	t.Helper()
	l, err := New(src, defaultConds)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return res
}

func TestDetectLayout(t *testing.T) {
	tests := []struct {
		header []string
		want   string
	}{
		{[]string{"subject", "feature", "baseline_mean", "stress_mean"}, config.LayoutTrend},
		{[]string{"subject", "dataset", "feature", "condition", "value"}, config.LayoutLong},
		{[]string{"subject", "feature", "label", "value"}, config.LayoutLong},
		{[]string{"subject", "HR_mean_baseline", "HR_mean_stress"}, config.LayoutPaired},
		{[]string{"subject", "label", "EDA_mean", "HR_mean"}, config.LayoutWide},
		{[]string{"HR_mean"}, config.LayoutWide},
	}
	for _, tc := range tests {
		t.Run(strings.Join(tc.header, ","), func(t *testing.T) {
			if got := DetectLayout(tc.header, config.Columns{}); got != tc.want {
				t.Errorf("DetectLayout = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDetectLayout_CustomColumns(t *testing.T) {
	header := []string{"participant", "metric", "phase", "reading"}
	cols := config.Columns{Subject: "participant", Feature: "metric", Condition: "phase", Value: "reading"}
	if got := DetectLayout(header, cols); got != config.LayoutLong {
		t.Errorf("DetectLayout = %q, want long", got)
	}
}

func TestLoad_Long(t *testing.T) {
	p := writeFile(t, "long.csv", `subject,dataset,feature,condition,value
S1,WESAD,HR,baseline,10
S1,WESAD,HR,Stress,15
S1,WESAD,HR,amusement,99
S2,WESAD,HR,baseline,NaN
`)
	res := load(t, config.Source{ID: "l", Path: p, Layout: config.LayoutAuto})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if res.Layout != config.LayoutLong {
		t.Errorf("Layout = %q, want long", res.Layout)
	}
	if len(res.Measurements) != 4 {
		t.Fatalf("len(Measurements) = %d, want 4", len(res.Measurements))
	}
	m := res.Measurements
	if m[1].Condition != types.Stress {
		t.Errorf("m[1].Condition = %q, want stress (case-insensitive)", m[1].Condition)
	}
	if m[2].Condition != types.Other {
		t.Errorf("m[2].Condition = %q, want other", m[2].Condition)
	}
	if !math.IsNaN(m[3].Value) {
		t.Errorf("m[3].Value = %v, want NaN", m[3].Value)
	}
	if m[0].Subject != "S1" || m[0].Dataset != "WESAD" {
		t.Errorf("identifiers = %q/%q", m[0].Subject, m[0].Dataset)
	}
	if !res.HasDimension(types.DimSubject) || !res.HasDimension(types.DimDataset) {
		t.Errorf("Dimensions = %v, want subject and dataset", res.Dimensions)
	}
	if res.Size == 0 || res.ModTime.IsZero() {
		t.Error("file stats not recorded")
	}
}

func TestLoad_Trend(t *testing.T) {
	p := writeFile(t, "trend.csv", `subject,feature,baseline_mean,stress_mean
n1,TEMP_mean,36.2,37.0
n1,HR_mean,,80
`)
	res := load(t, config.Source{ID: "t", Path: p})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if res.Layout != config.LayoutTrend {
		t.Errorf("Layout = %q, want trend", res.Layout)
	}
	if len(res.Measurements) != 4 {
		t.Fatalf("len(Measurements) = %d, want 4", len(res.Measurements))
	}
	if got := res.Measurements[0]; got.Condition != types.Baseline || got.Value != 36.2 {
		t.Errorf("m[0] = %+v", got)
	}
	if got := res.Measurements[1]; got.Condition != types.Stress || got.Value != 37.0 {
		t.Errorf("m[1] = %+v", got)
	}
	if !math.IsNaN(res.Measurements[2].Value) {
		t.Errorf("empty baseline cell should be NaN, got %v", res.Measurements[2].Value)
	}
	if res.HasDimension(types.DimDataset) {
		t.Error("trend table has no dataset column")
	}
}

func TestLoad_Paired(t *testing.T) {
	p := writeFile(t, "paired.csv", `subject,HR_mean_baseline,HR_mean_stress,EDA_baseline,EDA_stress
S1,70,80,1.5,2.5
`)
	res := load(t, config.Source{ID: "p", Path: p})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if res.Layout != config.LayoutPaired {
		t.Errorf("Layout = %q, want paired", res.Layout)
	}
	want := []string{"HR_mean", "EDA"}
	if strings.Join(res.Features, ",") != strings.Join(want, ",") {
		t.Errorf("Features = %v, want %v", res.Features, want)
	}
	if len(res.Measurements) != 4 {
		t.Errorf("len(Measurements) = %d, want 4", len(res.Measurements))
	}
}

func TestLoad_Wide(t *testing.T) {
	p := writeFile(t, "wide.csv", `subject,label,notes,EDA_mean,HR_mean
S2,baseline,calm,1.0,70
S2,stress,tense,2.0,NA
S2,meditation,ok,1.5,65
`)
	res := load(t, config.Source{ID: "w", Path: p})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if res.Layout != config.LayoutWide {
		t.Errorf("Layout = %q, want wide", res.Layout)
	}
	// "notes" is text, "label" and "subject" are identifiers.
	if strings.Join(res.Features, ",") != "EDA_mean,HR_mean" {
		t.Errorf("Features = %v", res.Features)
	}
	if len(res.Measurements) != 6 {
		t.Fatalf("len(Measurements) = %d, want 6", len(res.Measurements))
	}
	if res.Measurements[2].Condition != types.Stress {
		t.Errorf("m[2].Condition = %q, want stress", res.Measurements[2].Condition)
	}
	if res.Measurements[4].Condition != types.Other {
		t.Errorf("m[4].Condition = %q, want other", res.Measurements[4].Condition)
	}
	if len(res.Attributes) != 3 || res.Attributes[0] != (types.Attribute{Subject: "S2", Name: "notes", Value: "calm"}) {
		t.Errorf("Attributes = %+v", res.Attributes)
	}
}

func TestLoad_SignalColumn(t *testing.T) {
	p := writeFile(t, "regulation.csv", `subject,channel,condition,latency_s,regulation_class
S1,EDA,baseline,1,good
S1,EDA,stress,2,good
S1,BVP,baseline,4,good
S1,BVP,stress,10,good
`)
	res := load(t, config.Source{ID: "r", Path: p, Layout: config.LayoutWide, Columns: config.Columns{Signal: "channel"}})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if strings.Join(res.Features, ",") != "EDA_latency_s,BVP_latency_s" {
		t.Errorf("Features = %v", res.Features)
	}
	if len(res.Measurements) != 4 || res.Measurements[3].Feature != "BVP_latency_s" || res.Measurements[3].Value != 10 {
		t.Errorf("Measurements = %+v", res.Measurements)
	}
	want := []types.Attribute{{Subject: "S1", Name: "regulation_class", Value: "good"}}
	if len(res.Attributes) != 1 || res.Attributes[0] != want[0] {
		t.Errorf("Attributes = %+v, want %+v", res.Attributes, want)
	}
}

func TestLoad_SignalColumnMissing(t *testing.T) {
	p := writeFile(t, "w.csv", `subject,condition,HR
S1,baseline,70
`)
	res := load(t, config.Source{ID: "w", Path: p, Columns: config.Columns{Signal: "channel"}})
	var se *SchemaError
	if !errors.As(res.Err, &se) || len(se.Missing) != 1 || se.Missing[0] != "channel" {
		t.Fatalf("res.Err = %v, want missing channel", res.Err)
	}
}

func TestLoad_InvalidCells(t *testing.T) {
	p := writeFile(t, "trend.csv", `subject,feature,baseline_mean,stress_mean
S1,HR,70,abc
S2,HR,"12,5",80
S3,HR,inf,80
`)
	res := load(t, config.Source{ID: "t", Path: p})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if res.Invalid["baseline_mean"] != 1 || res.Invalid["stress_mean"] != 1 || res.InvalidCells() != 2 {
		t.Errorf("Invalid = %v", res.Invalid)
	}
	for _, m := range res.Measurements {
		if math.IsInf(m.Value, 0) {
			t.Errorf("infinite value kept: %+v", m)
		}
	}
}

func TestLoad_RejectsSeparatorInIDs(t *testing.T) {
	p := writeFile(t, "long.csv", `subject,dataset,feature,condition,value
S1 / S2,WESAD,HR,baseline,1
`)
	res := load(t, config.Source{ID: "l", Path: p})
	if res.Err == nil || !strings.Contains(res.Err.Error(), types.GroupSeparator) {
		t.Fatalf("res.Err = %v, want separator rejection", res.Err)
	}
	if len(res.Measurements) != 0 {
		t.Errorf("Measurements = %d, want none", len(res.Measurements))
	}
}

func TestLoad_TSV(t *testing.T) {
	p := writeFile(t, "long.tsv", "subject\tfeature\tcondition\tvalue\nS1\tHR\tbaseline\t10\n")
	res := load(t, config.Source{ID: "tsv", Path: p})
	if res.Err != nil {
		t.Fatalf("res.Err: %v", res.Err)
	}
	if len(res.Measurements) != 1 || res.Measurements[0].Value != 10 {
		t.Errorf("Measurements = %+v", res.Measurements)
	}
}

func TestLoad_ConditionAliases(t *testing.T) {
	p := writeFile(t, "long.csv", "subject,feature,condition,value\nS1,HR,rest,10\nS1,HR,TSST,20\n")
	l, err := New(config.Source{ID: "a", Path: p}, config.ConditionsConfig{
		Baseline: []string{"rest"},
		Stress:   []string{"tsst"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, _ := l.Load(context.Background())
	if res.Measurements[0].Condition != types.Baseline || res.Measurements[1].Condition != types.Stress {
		t.Errorf("conditions = %q, %q", res.Measurements[0].Condition, res.Measurements[1].Condition)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	res := load(t, config.Source{ID: "gone", Path: filepath.Join(t.TempDir(), "nope.csv")})
	if !errors.Is(res.Err, ErrMissingInput) {
		t.Fatalf("res.Err = %v, want ErrMissingInput", res.Err)
	}
	if len(res.Measurements) != 0 {
		t.Error("Measurements should be empty")
	}
}

func TestLoad_SchemaMismatch(t *testing.T) {
	p := writeFile(t, "bad.csv", "subject,feature,note\nS1,HR,x\n")
	res := load(t, config.Source{ID: "bad", Path: p, Layout: config.LayoutLong})
	var se *SchemaError
	if !errors.As(res.Err, &se) {
		t.Fatalf("res.Err = %v, want *SchemaError", res.Err)
	}
	if strings.Join(se.Missing, ",") != "value,condition" {
		t.Errorf("Missing = %v, want [value condition]", se.Missing)
	}
	if len(se.Available) != 3 {
		t.Errorf("Available = %v", se.Available)
	}
}

func TestLoad_WideNoNumericColumns(t *testing.T) {
	p := writeFile(t, "text.csv", "subject,label,notes\nS1,baseline,calm\n")
	res := load(t, config.Source{ID: "txt", Path: p})
	var se *SchemaError
	if !errors.As(res.Err, &se) {
		t.Fatalf("res.Err = %v, want *SchemaError", res.Err)
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	l, _ := New(config.Source{ID: "c", Path: "x.csv"}, defaultConds)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Load(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Load err = %v, want context.Canceled", err)
	}
}

func TestNew_UnsupportedExtension(t *testing.T) {
	if _, err := New(config.Source{ID: "x", Path: "data.parquet"}, defaultConds); err == nil {
		t.Error("expected error for .parquet")
	}
}

func TestParseTable_BOMAndEmpty(t *testing.T) {
	header, rows, err := parseTable(strings.NewReader("\ufeffsubject, feature\nS1,HR\n"), "mem", ',')
	if err != nil {
		t.Fatalf("parseTable: %v", err)
	}
	if header[0] != "subject" || header[1] != "feature" {
		t.Errorf("header = %q", header)
	}
	if len(rows) != 1 {
		t.Errorf("rows = %d, want 1", len(rows))
	}

	_, _, err = parseTable(strings.NewReader(""), "empty", ',')
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Errorf("empty input err = %v, want *SchemaError", err)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in     string
		want   float64
		nan    bool
		wantOK bool
	}{
		{"1.5", 1.5, false, true},
		{" -3 ", -3, false, true},
		{"", 0, true, true},
		{"NaN", 0, true, true},
		{"N/A", 0, true, true},
		{"None", 0, true, true},
		{"abc", 0, true, false},
		{"12,5", 0, true, false},
		{"inf", 0, true, true},
		{"-Infinity", 0, true, true},
		{"1e400", 0, true, true},
		{"1e-400", 0, false, true},
	}
	for _, tc := range tests {
		got, ok := parseValue(tc.in)
		if ok != tc.wantOK {
			t.Errorf("parseValue(%q) ok = %v, want %v", tc.in, ok, tc.wantOK)
		}
		if tc.nan {
			if !math.IsNaN(got) {
				t.Errorf("parseValue(%q) = %v, want NaN", tc.in, got)
			}
		} else if got != tc.want {
			t.Errorf("parseValue(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
