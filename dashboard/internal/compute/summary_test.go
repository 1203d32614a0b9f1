package compute

import (
	"math"
	"math/rand"
	"reflect"
	"testing"

	"github.com/stresslens/stresslens/pkg/types"
)

// almostEqual returns true if a and b are within epsilon of each other.
func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func meas(subject, feature string, cond types.Condition, v float64) types.Measurement {
	return types.Measurement{Subject: subject, Feature: feature, Condition: cond, Value: v}
}

func TestSummarize_Correctness(t *testing.T) {
	ms := []types.Measurement{
		meas("S1", "HR", types.Baseline, 10),
		meas("S1", "HR", types.Baseline, 20),
		meas("S1", "HR", types.Stress, 15),
		meas("S1", "HR", types.Stress, 25),
	}
	got := Summarize(ms, types.DimSubject)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	s := got[0]
	if s.Group != "S1" || s.Feature != "HR" {
		t.Errorf("key = %q/%q", s.Group, s.Feature)
	}
	if s.BaselineMean != 15 || s.StressMean != 20 {
		t.Errorf("means = %v/%v, want 15/20", s.BaselineMean, s.StressMean)
	}
	if !almostEqual(s.ChangePct, 33.33, 0.01) {
		t.Errorf("ChangePct = %v, want 33.33", s.ChangePct)
	}
}

func TestSummarize_GroupedEndToEnd(t *testing.T) {
	ms := []types.Measurement{
		meas("Galaxy", "TEMP", types.Baseline, 36.0),
		meas("Galaxy", "TEMP", types.Baseline, 36.4),
		meas("Galaxy", "TEMP", types.Stress, 37.0),
	}
	got := Summarize(ms, types.DimSubject)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	s := got[0]
	if s.Group != "Galaxy" || s.Feature != "TEMP" {
		t.Errorf("key = %q/%q", s.Group, s.Feature)
	}
	if !almostEqual(s.BaselineMean, 36.2, 1e-9) || s.StressMean != 37.0 {
		t.Errorf("means = %v/%v, want 36.2/37.0", s.BaselineMean, s.StressMean)
	}
	if !almostEqual(s.ChangePct, 2.21, 0.01) {
		t.Errorf("ChangePct = %v, want ~2.21", s.ChangePct)
	}
}

func TestSummarize_NaNHandling(t *testing.T) {
	nan := math.NaN()
	ms := []types.Measurement{
		meas("S1", "HR", types.Baseline, 10),
		meas("S1", "HR", types.Baseline, nan),
		meas("S1", "HR", types.Stress, 12),
		meas("S1", "EDA", types.Baseline, nan),
		meas("S1", "EDA", types.Baseline, nan),
		meas("S1", "EDA", types.Stress, 3),
	}
	got := Summarize(ms, types.DimSubject)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (all-NaN baseline dropped): %+v", len(got), got)
	}
	if got[0].Feature != "HR" || got[0].BaselineMean != 10 {
		t.Errorf("got %+v, want HR baseline 10", got[0])
	}
}

func TestSummarize_Exclusions(t *testing.T) {
	tests := []struct {
		name string
		ms   []types.Measurement
	}{
		{
			name: "zero baseline",
			ms: []types.Measurement{
				meas("S1", "HR", types.Baseline, 0),
				meas("S1", "HR", types.Baseline, 0),
				meas("S1", "HR", types.Stress, 5),
			},
		},
		{
			name: "baseline cancels to zero",
			ms: []types.Measurement{
				meas("S1", "HR", types.Baseline, -2),
				meas("S1", "HR", types.Baseline, 2),
				meas("S1", "HR", types.Stress, 5),
			},
		},
		{
			name: "no stress rows",
			ms:   []types.Measurement{meas("S1", "HR", types.Baseline, 10)},
		},
		{
			name: "no baseline rows",
			ms:   []types.Measurement{meas("S1", "HR", types.Stress, 10)},
		},
		{
			name: "all-NaN stress",
			ms: []types.Measurement{
				meas("S1", "HR", types.Baseline, 10),
				meas("S1", "HR", types.Stress, math.NaN()),
			},
		},
		{
			name: "other condition ignored",
			ms: []types.Measurement{
				meas("S1", "HR", types.Baseline, 10),
				meas("S1", "HR", types.Other, 30),
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Summarize(tc.ms, types.DimSubject); len(got) != 0 {
				t.Errorf("got %+v, want no records", got)
			}
		})
	}
}

func TestSummarize_GroupingKeys(t *testing.T) {
	ms := []types.Measurement{
		{Subject: "S1", Dataset: "Galaxy", Feature: "HR", Condition: types.Baseline, Value: 60},
		{Subject: "S1", Dataset: "Galaxy", Feature: "HR", Condition: types.Stress, Value: 66},
		{Subject: "S2", Dataset: "Galaxy", Feature: "HR", Condition: types.Baseline, Value: 80},
		{Subject: "S2", Dataset: "Galaxy", Feature: "HR", Condition: types.Stress, Value: 80},
		{Subject: "S3", Dataset: "Nurse", Feature: "HR", Condition: types.Baseline, Value: 50},
		{Subject: "S3", Dataset: "Nurse", Feature: "HR", Condition: types.Stress, Value: 75},
	}

	byDataset := Summarize(ms, types.DimDataset)
	if len(byDataset) != 2 {
		t.Fatalf("by dataset: len = %d, want 2", len(byDataset))
	}
	// Galaxy: baseline 70, stress 73 → 4.2857%
	if byDataset[0].Group != "Galaxy" || !almostEqual(byDataset[0].ChangePct, 300.0/70, 1e-9) {
		t.Errorf("Galaxy = %+v", byDataset[0])
	}
	if byDataset[1].Group != "Nurse" || byDataset[1].ChangePct != 50 {
		t.Errorf("Nurse = %+v", byDataset[1])
	}

	both := Summarize(ms, types.DimDataset, types.DimSubject)
	if len(both) != 3 || both[0].Group != "Galaxy / S1" {
		t.Errorf("dataset+subject = %+v", both)
	}

	global := Summarize(ms)
	if len(global) != 1 || global[0].Group != "" {
		t.Errorf("global = %+v", global)
	}
}

func TestSummarize_SortedOutput(t *testing.T) {
	ms := []types.Measurement{
		meas("S2", "HR", types.Baseline, 1), meas("S2", "HR", types.Stress, 2),
		meas("S1", "TEMP", types.Baseline, 1), meas("S1", "TEMP", types.Stress, 2),
		meas("S1", "EDA", types.Baseline, 1), meas("S1", "EDA", types.Stress, 2),
	}
	got := Summarize(ms, types.DimSubject)
	want := [][2]string{{"S1", "EDA"}, {"S1", "TEMP"}, {"S2", "HR"}}
	for i, w := range want {
		if got[i].Group != w[0] || got[i].Feature != w[1] {
			t.Errorf("got[%d] = %s/%s, want %s/%s", i, got[i].Group, got[i].Feature, w[0], w[1])
		}
	}
}

func TestSummarize_Deterministic(t *testing.T) {
	var ms []types.Measurement
	for i := 0; i < 200; i++ {
		v := 0.1 * float64(i%17)
		ms = append(ms,
			meas("S1", "HR", types.Baseline, 60+v),
			meas("S1", "HR", types.Stress, 70+v*3),
			meas("S2", "EDA", types.Baseline, 0.3+v),
			meas("S2", "EDA", types.Stress, 0.7+v/3),
		)
	}
	want := Summarize(ms, types.DimSubject)

	rng := rand.New(rand.NewSource(1))
	for round := 0; round < 5; round++ {
		shuffled := append([]types.Measurement(nil), ms...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if got := Summarize(shuffled, types.DimSubject); !reflect.DeepEqual(got, want) {
			t.Fatalf("round %d: shuffled input changed output\n got %+v\nwant %+v", round, got, want)
		}
	}
}

func TestSummarize_Idempotent(t *testing.T) {
	ms := []types.Measurement{
		meas("S1", "HR", types.Baseline, 0.1),
		meas("S1", "HR", types.Baseline, 0.2),
		meas("S1", "HR", types.Stress, 0.3),
	}
	first := Summarize(ms, types.DimSubject)
	second := Summarize(ms, types.DimSubject)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("outputs differ: %+v vs %+v", first, second)
	}
	if math.Float64bits(first[0].ChangePct) != math.Float64bits(second[0].ChangePct) {
		t.Error("ChangePct not bit-identical")
	}
}

func TestMean(t *testing.T) {
	if got := Mean([]float64{10, math.NaN()}); got != 10 {
		t.Errorf("Mean([10 NaN]) = %v, want 10", got)
	}
	if got := Mean([]float64{math.NaN(), math.NaN()}); !math.IsNaN(got) {
		t.Errorf("Mean([NaN NaN]) = %v, want NaN", got)
	}
	if got := Mean(nil); !math.IsNaN(got) {
		t.Errorf("Mean(nil) = %v, want NaN", got)
	}
	in := []float64{3, 1, 2}
	Mean(in)
	if in[0] != 3 {
		t.Error("Mean modified its input")
	}
}

func TestExtremes(t *testing.T) {
	summaries := []types.FeatureSummary{
		{Feature: "A", ChangePct: 5.0},
		{Feature: "B", ChangePct: -12.0},
		{Feature: "C", ChangePct: 8.0},
	}
	ext, ok := Extremes(summaries, nil)
	if !ok {
		t.Fatal("ok = false")
	}
	if ext.Increase.Feature != "C" || ext.Increase.ChangePct != 8.0 {
		t.Errorf("Increase = %+v, want C", ext.Increase)
	}
	if ext.Decrease.Feature != "B" || ext.Decrease.ChangePct != -12.0 {
		t.Errorf("Decrease = %+v, want B", ext.Decrease)
	}
}

func TestExtremes_TiesKeepFirst(t *testing.T) {
	summaries := []types.FeatureSummary{
		{Feature: "A", ChangePct: 8},
		{Feature: "B", ChangePct: -3},
		{Feature: "C", ChangePct: 8},
		{Feature: "D", ChangePct: -3},
	}
	ext, _ := Extremes(summaries, nil)
	if ext.Increase.Feature != "A" || ext.Decrease.Feature != "B" {
		t.Errorf("got %s/%s, want A/B", ext.Increase.Feature, ext.Decrease.Feature)
	}
}

func TestExtremes_Filtered(t *testing.T) {
	summaries := []types.FeatureSummary{
		{Group: "S1", Feature: "A", ChangePct: 50},
		{Group: "S2", Feature: "B", ChangePct: 4},
		{Group: "S2", Feature: "C", ChangePct: -1},
	}
	ext, ok := Extremes(summaries, InGroup("S2"))
	if !ok || ext.Increase.Feature != "B" || ext.Decrease.Feature != "C" {
		t.Errorf("got %+v ok=%v", ext, ok)
	}
	if _, ok := Extremes(summaries, InGroup("S9")); ok {
		t.Error("ok = true for empty subset")
	}
	if _, ok := Extremes(nil, nil); ok {
		t.Error("ok = true for nil input")
	}
}

func TestChangePct(t *testing.T) {
	if _, ok := ChangePct(0, 5); ok {
		t.Error("zero baseline should be undefined")
	}
	if _, ok := ChangePct(math.NaN(), 5); ok {
		t.Error("NaN baseline should be undefined")
	}
	if got, ok := ChangePct(-10, -5); !ok || got != -50 {
		t.Errorf("ChangePct(-10,-5) = %v,%v want -50", got, ok)
	}
}

func TestChangePct_NonFinite(t *testing.T) {
	tests := []struct {
		name             string
		baseline, stress float64
	}{
		{"inf baseline", math.Inf(1), 80},
		{"neg inf baseline", math.Inf(-1), 80},
		{"inf stress", 10, math.Inf(1)},
		{"overflowing change", 1e-300, 1e300},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got, ok := ChangePct(tc.baseline, tc.stress); ok {
				t.Errorf("ChangePct(%v, %v) = %v, want undefined", tc.baseline, tc.stress, got)
			}
		})
	}
}

func TestSummarize_DropsNonFiniteMeans(t *testing.T) {
	ms := []types.Measurement{
		meas("S1", "HR", types.Baseline, math.Inf(1)),
		meas("S1", "HR", types.Stress, 80),
		meas("S1", "EDA", types.Baseline, 1),
		meas("S1", "EDA", types.Stress, 2),
		meas("S1", "TEMP", types.Baseline, math.MaxFloat64),
		meas("S1", "TEMP", types.Baseline, math.MaxFloat64),
		meas("S1", "TEMP", types.Stress, 36),
	}
	got := Summarize(ms, types.DimSubject)
	if len(got) != 1 || got[0].Feature != "EDA" || got[0].ChangePct != 100 {
		t.Fatalf("Summarize = %+v, want only EDA at +100%%", got)
	}
	for _, s := range got {
		if math.IsNaN(s.ChangePct) || math.IsInf(s.ChangePct, 0) {
			t.Errorf("non-finite change in %+v", s)
		}
	}
}
