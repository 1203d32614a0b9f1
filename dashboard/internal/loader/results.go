package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// ClassifierResults is the analysis_results.json document written by the
// classification notebook. Only the sections the dashboard renders are typed.
type ClassifierResults struct {
	DataInfo DataInfo `json:"data_info"`

	ClassDistributionBeforeSMOTE map[string]int `json:"class_distribution_before_smote,omitempty"`
	ClassDistributionAfterSMOTE  map[string]int `json:"class_distribution_after_smote,omitempty"`
	ClassDistributionTest        map[string]int `json:"class_distribution_test,omitempty"`

	// ModelMetrics maps model name to metric name to value.
	ModelMetrics map[string]map[string]float64 `json:"model_metrics"`

	BestModel *BestModel `json:"best_model,omitempty"`

	// ConfusionMatrices maps model name to a square count matrix whose rows
	// are true labels, in DataInfo.Classes order.
	ConfusionMatrices map[string][][]float64 `json:"confusion_matrices"`

	// PerClassMetrics maps model name to class name to metrics.
	PerClassMetrics map[string]map[string]ClassMetrics `json:"per_class_metrics,omitempty"`

	LabelEncoderMapping map[string]int `json:"label_encoder_mapping,omitempty"`
}

// DataInfo describes the training split.
type DataInfo struct {
	NTrainBeforeSMOTE int      `json:"n_train_before_smote,omitempty"`
	NTrainAfterSMOTE  int      `json:"n_train_after_smote"`
	NTest             int      `json:"n_test"`
	NFeatures         int      `json:"n_features"`
	NClasses          int      `json:"n_classes"`
	Classes           []string `json:"classes"`
}

// BestModel is the model selected by the notebook.
type BestModel struct {
	Name             string  `json:"name"`
	Accuracy         float64 `json:"accuracy"`
	BalancedAccuracy float64 `json:"balanced_accuracy"`
	MacroF1          float64 `json:"macro_f1"`
}

// ClassMetrics holds per-class precision, recall and F1.
type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1Score   float64 `json:"f1_score"`
	Support   float64 `json:"support,omitempty"`
}

var requiredResultKeys = []string{"data_info", "model_metrics", "confusion_matrices"}

// LoadResults reads and decodes the classifier results document.
// A missing file wraps ErrMissingInput; absent sections yield a SchemaError.
func LoadResults(path string) (*ClassifierResults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, statErr(path, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	var missing []string
	for _, k := range requiredResultKeys {
		if _, ok := raw[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		avail := make([]string, 0, len(raw))
		for k := range raw {
			avail = append(avail, k)
		}
		sort.Strings(avail)
		return nil, &SchemaError{Path: path, Missing: missing, Available: avail}
	}

	var res ClassifierResults
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &res, nil
}

// ModelNames returns the models with a confusion matrix, sorted by name.
func (r *ClassifierResults) ModelNames() []string {
	names := make([]string, 0, len(r.ConfusionMatrices))
	for n := range r.ConfusionMatrices {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NormalizeRows divides every cell by its row total so each row sums to 1.
// Rows summing to zero stay zero.
func NormalizeRows(cm [][]float64) [][]float64 {
	out := make([][]float64, len(cm))
	for i, row := range cm {
		var sum float64
		for _, v := range row {
			sum += v
		}
		out[i] = make([]float64, len(row))
		if sum == 0 {
			continue
		}
		for j, v := range row {
			out[i][j] = v / sum
		}
	}
	return out
}
