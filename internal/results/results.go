package results

// Default file names inside the output directory.
const (
	TrainingLogFile      = "training_log.json"
	PredictionsFile      = "predictions.json"
	PredictionResultFile = "prediction_result.json"
	ModelFile            = "model.json.zst"
	ManifestFile         = "dataset_manifest.parquet"
	RunsDir              = "runs"
)

// LogEntry is one completed training epoch.
type LogEntry struct {
	Epoch    int     `json:"epoch" yaml:"epoch"`
	Loss     float64 `json:"loss" yaml:"loss"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
}

// PredictionRecord is one sampled test image with its true and predicted
// class ids. Image is a base64 PNG.
type PredictionRecord struct {
	Image     string `json:"image"`
	TrueLabel int    `json:"true_label"`
	PredLabel int    `json:"pred_label"`
}

// InferenceResult is the outcome of classifying a single image.
type InferenceResult struct {
	Image      string  `json:"image"`
	Meaning    string  `json:"meaning"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
}

// WriteTrainingLog rewrites the whole log so it is always a complete
// JSON array.
func WriteTrainingLog(path string, entries []LogEntry) error {
	if entries == nil {
		entries = []LogEntry{}
	}
	return WriteJSON(path, entries)
}

func ReadTrainingLog(path string) ([]LogEntry, error) {
	var entries []LogEntry
	if err := ReadJSON(path, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func WritePredictions(path string, records []PredictionRecord) error {
	return WriteJSON(path, records)
}

func ReadPredictions(path string) ([]PredictionRecord, error) {
	var records []PredictionRecord
	if err := ReadJSON(path, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func WriteInferenceResult(path string, result *InferenceResult) error {
	return WriteJSON(path, result)
}

func ReadInferenceResult(path string) (*InferenceResult, error) {
	var result InferenceResult
	if err := ReadJSON(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
