package dataset

import (
	"github.com/lehigh-university-libraries/trafficsign/internal/images"
)

// Partition names the half of the split a sample belongs to.
type Partition string

const (
	PartitionTrain Partition = "train"
	PartitionTest  Partition = "test"
)

// Set holds parallel tensor and class id slices.
type Set struct {
	Images []images.Tensor
	Labels []int
}

// Len returns the number of samples in the set.
func (s Set) Len() int {
	return len(s.Labels)
}

// Inputs exposes the raw pixel slices in sample order. The slices are
// shared with the set, callers must not modify them.
func (s Set) Inputs() [][]float32 {
	out := make([][]float32, len(s.Images))
	for i, t := range s.Images {
		out[i] = t.Pix
	}
	return out
}

func (s *Set) append(t images.Tensor, classID int) {
	s.Images = append(s.Images, t)
	s.Labels = append(s.Labels, classID)
}

// ClassSummary records what the loader did with one class directory.
type ClassSummary struct {
	ClassID    int    `json:"class_id" yaml:"class_id"`
	Label      string `json:"label" yaml:"label"`
	Discovered int    `json:"discovered" yaml:"discovered"`
	Train      int    `json:"train" yaml:"train"`
	Test       int    `json:"test" yaml:"test"`
	Failed     int    `json:"failed,omitempty" yaml:"failed,omitempty"`
	Skipped    bool   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Summary aggregates per-class counts for observability.
type Summary struct {
	Classes       []ClassSummary `json:"classes" yaml:"classes"`
	TrainSamples  int            `json:"train_samples" yaml:"train_samples"`
	TestSamples   int            `json:"test_samples" yaml:"test_samples"`
	ClassesLoaded int            `json:"classes_loaded" yaml:"classes_loaded"`
}

func (s *Summary) add(cs ClassSummary) {
	s.Classes = append(s.Classes, cs)
	s.TrainSamples += cs.Train
	s.TestSamples += cs.Test
	if cs.Train+cs.Test > 0 {
		s.ClassesLoaded++
	}
}

// Class returns the summary for classID.
func (s Summary) Class(classID int) (ClassSummary, bool) {
	for _, cs := range s.Classes {
		if cs.ClassID == classID {
			return cs, true
		}
	}
	return ClassSummary{}, false
}

// Split is the loader's result: both partitions plus bookkeeping.
type Split struct {
	Train    Set
	Test     Set
	Summary  Summary
	Manifest []ManifestEntry
}

// Annotation is one row of a GTSRB GT-xxxxx.csv table.
type Annotation struct {
	Filename string `csv:"Filename"`
	Width    int    `csv:"Width"`
	Height   int    `csv:"Height"`
	RoiX1    int    `csv:"Roi.X1"`
	RoiY1    int    `csv:"Roi.Y1"`
	RoiX2    int    `csv:"Roi.X2"`
	RoiY2    int    `csv:"Roi.Y2"`
	ClassID  int    `csv:"ClassId"`
}

// ManifestEntry describes one image that entered the split.
type ManifestEntry struct {
	ClassID   int32  `parquet:"class_id" json:"class_id"`
	Path      string `parquet:"path" json:"path"`
	Partition string `parquet:"partition" json:"partition"`
	Width     int32  `parquet:"width" json:"width"`
	Height    int32  `parquet:"height" json:"height"`
	RoiX1     int32  `parquet:"roi_x1" json:"roi_x1"`
	RoiY1     int32  `parquet:"roi_y1" json:"roi_y1"`
	RoiX2     int32  `parquet:"roi_x2" json:"roi_x2"`
	RoiY2     int32  `parquet:"roi_y2" json:"roi_y2"`
}
