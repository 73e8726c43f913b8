package evaluation

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/results"
)

// ClassStats is the sample-prediction accuracy for one true class.
type ClassStats struct {
	ClassID  int     `json:"class_id"`
	Label    string  `json:"label"`
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// Confusion counts predictions of PredLabel for images of TrueLabel.
type Confusion struct {
	TrueLabel int `json:"true_label"`
	PredLabel int `json:"pred_label"`
	Count     int `json:"count"`
}

// Summary aggregates a predictions report and, optionally, the training log.
type Summary struct {
	Total      int               `json:"total"`
	Correct    int               `json:"correct"`
	Accuracy   float64           `json:"accuracy"`
	Classes    []ClassStats      `json:"classes"`
	Confusions []Confusion       `json:"confusions"`
	Epochs     int               `json:"epochs"`
	FinalEpoch *results.LogEntry `json:"final_epoch,omitempty"`
}

// Summarize groups records by true class. Classes and confusions are sorted
// by class id.
func Summarize(records []results.PredictionRecord, log []results.LogEntry) Summary {
	s := Summary{
		Total:      len(records),
		Classes:    []ClassStats{},
		Confusions: []Confusion{},
		Epochs:     len(log),
	}
	if len(log) > 0 {
		last := log[len(log)-1]
		s.FinalEpoch = &last
	}

	byClass := map[int]*ClassStats{}
	confusions := map[[2]int]int{}
	for _, r := range records {
		cs, ok := byClass[r.TrueLabel]
		if !ok {
			cs = &ClassStats{ClassID: r.TrueLabel, Label: catalog.Label(r.TrueLabel)}
			byClass[r.TrueLabel] = cs
		}
		cs.Total++
		if r.PredLabel == r.TrueLabel {
			cs.Correct++
			s.Correct++
		} else {
			confusions[[2]int{r.TrueLabel, r.PredLabel}]++
		}
	}

	for _, cs := range byClass {
		cs.Accuracy = float64(cs.Correct) / float64(cs.Total)
		s.Classes = append(s.Classes, *cs)
	}
	sort.Slice(s.Classes, func(i, j int) bool { return s.Classes[i].ClassID < s.Classes[j].ClassID })

	for pair, n := range confusions {
		s.Confusions = append(s.Confusions, Confusion{TrueLabel: pair[0], PredLabel: pair[1], Count: n})
	}
	sort.Slice(s.Confusions, func(i, j int) bool {
		a, b := s.Confusions[i], s.Confusions[j]
		if a.TrueLabel != b.TrueLabel {
			return a.TrueLabel < b.TrueLabel
		}
		return a.PredLabel < b.PredLabel
	})

	if s.Total > 0 {
		s.Accuracy = float64(s.Correct) / float64(s.Total)
	}
	return s
}

// PrintSummary writes a human-readable report of s to w.
func PrintSummary(w io.Writer, s Summary) {
	rule := strings.Repeat("=", 70)
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "TRAFFIC SIGN TRAINING REPORT")
	fmt.Fprintln(w, rule)

	fmt.Fprintln(w, "TRAINING")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	if s.FinalEpoch == nil {
		fmt.Fprintln(w, "No training log found")
	} else {
		fmt.Fprintf(w, "Epochs Completed: %d\n", s.Epochs)
		fmt.Fprintf(w, "Final Loss: %.4f\n", s.FinalEpoch.Loss)
		fmt.Fprintf(w, "Final Accuracy: %.2f%%\n", s.FinalEpoch.Accuracy*100)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "SAMPLE PREDICTIONS")
	fmt.Fprintln(w, strings.Repeat("-", 70))
	if s.Total == 0 {
		fmt.Fprintln(w, "No sample predictions found")
	} else {
		fmt.Fprintf(w, "Correct: %d of %d (%.1f%%)\n", s.Correct, s.Total, s.Accuracy*100)
		for _, cs := range s.Classes {
			fmt.Fprintf(w, "  [%02d] %-45s %d/%d\n", cs.ClassID, cs.Label, cs.Correct, cs.Total)
		}
		for _, c := range s.Confusions {
			fmt.Fprintf(w, "  %s predicted as %s (%d)\n", catalog.Label(c.TrueLabel), catalog.Label(c.PredLabel), c.Count)
		}
	}
	fmt.Fprintln(w, rule)
}
