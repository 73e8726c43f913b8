package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/lehigh-university-libraries/trafficsign/internal/dataset/datasettest"
)

func writeClasses(t *testing.T, root string, classes ...datasettest.Class) {
	t.Helper()
	for _, c := range classes {
		if _, err := datasettest.WriteClass(root, c); err != nil {
			t.Fatalf("Failed to write class %d: %v", c.ID, err)
		}
	}
}

func TestNewLoaderDefaults(t *testing.T) {
	loader := NewLoader("./GTSRB/Training", Options{})

	if loader.root != "./GTSRB/Training" {
		t.Errorf("Expected root ./GTSRB/Training, got %s", loader.root)
	}
	if loader.opts.NumClasses != 43 {
		t.Errorf("Expected 43 classes, got %d", loader.opts.NumClasses)
	}
	if loader.opts.MinImages != DefaultMinImages {
		t.Errorf("Expected min images %d, got %d", DefaultMinImages, loader.opts.MinImages)
	}
	if loader.opts.TrainFraction != DefaultTrainFraction {
		t.Errorf("Expected fraction %v, got %v", DefaultTrainFraction, loader.opts.TrainFraction)
	}
	if loader.opts.ImageSize != 32 {
		t.Errorf("Expected image size 32, got %d", loader.opts.ImageSize)
	}
}

func TestSplitIndex(t *testing.T) {
	tests := []struct {
		n        int
		expected int
	}{
		{10, 8},
		{11, 8},
		{12, 9},
		{15, 12},
		{23, 18},
		{100, 80},
		{2220, 1776},
	}

	for _, tt := range tests {
		if got := SplitIndex(tt.n, 0.8); got != tt.expected {
			t.Errorf("SplitIndex(%d, 0.8): expected %d, got %d", tt.n, tt.expected, got)
		}
	}
}

func TestLoadSplitCounts(t *testing.T) {
	root := t.TempDir()
	writeClasses(t, root,
		datasettest.Class{ID: 0, Count: 12, Color: datasettest.Red},
		datasettest.Class{ID: 2, Count: 10, Color: datasettest.Blue},
		datasettest.Class{ID: 5, Count: 23, Color: datasettest.Red, Size: 40},
	)

	split, err := NewLoader(root, Options{}).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	expected := map[int][2]int{0: {9, 3}, 2: {8, 2}, 5: {18, 5}}
	for classID, counts := range expected {
		cs, ok := split.Summary.Class(classID)
		if !ok {
			t.Fatalf("Missing summary for class %d", classID)
		}
		if cs.Train+cs.Test != cs.Discovered {
			t.Errorf("Class %d: train+test %d != discovered %d", classID, cs.Train+cs.Test, cs.Discovered)
		}
		if cs.Train != counts[0] || cs.Test != counts[1] {
			t.Errorf("Class %d: expected %v, got train=%d test=%d", classID, counts, cs.Train, cs.Test)
		}
		if cs.Train != SplitIndex(cs.Discovered, 0.8) {
			t.Errorf("Class %d: train count is not floor(0.8n)", classID)
		}
	}

	if split.Train.Len() != 35 || split.Test.Len() != 10 {
		t.Errorf("Expected 35/10 samples, got %d/%d", split.Train.Len(), split.Test.Len())
	}
	if split.Summary.ClassesLoaded != 3 {
		t.Errorf("Expected 3 loaded classes, got %d", split.Summary.ClassesLoaded)
	}

	// Concatenation is in class id order.
	if split.Train.Labels[0] != 0 || split.Train.Labels[len(split.Train.Labels)-1] != 5 {
		t.Errorf("Unexpected label order: %v", split.Train.Labels)
	}

	first := split.Train.Images[0]
	if first.Size != 32 || len(first.Pix) != 32*32*3 {
		t.Fatalf("Unexpected tensor shape: size=%d len=%d", first.Size, len(first.Pix))
	}
	if first.At(0, 0, 0) != 1 || first.At(0, 0, 2) != 0 {
		t.Errorf("Expected normalized red pixel, got (%v, %v, %v)", first.At(0, 0, 0), first.At(0, 0, 1), first.At(0, 0, 2))
	}
}

func TestLoadSkipsUnusableClasses(t *testing.T) {
	root := t.TempDir()
	writeClasses(t, root,
		datasettest.Class{ID: 0, Count: 12, Color: datasettest.Red},
		datasettest.Class{ID: 1, Count: 9, Color: datasettest.Blue},
		datasettest.Class{ID: 2, Count: 15, Color: datasettest.Blue, NoCSV: true},
		datasettest.Class{ID: 3, Count: 0, Color: datasettest.Blue},
	)

	split, err := NewLoader(root, Options{}).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, label := range append(append([]int{}, split.Train.Labels...), split.Test.Labels...) {
		if label != 0 {
			t.Fatalf("Sample from skipped class %d leaked into the split", label)
		}
	}

	tests := []struct {
		classID int
		reason  string
	}{
		{1, "insufficient images"},
		{2, "annotation table not found"},
		{3, "insufficient images"},
		{4, "class directory not found"},
	}
	for _, tt := range tests {
		cs, ok := split.Summary.Class(tt.classID)
		if !ok {
			t.Fatalf("Missing summary for class %d", tt.classID)
		}
		if !cs.Skipped || cs.Reason != tt.reason {
			t.Errorf("Class %d: expected skipped with %q, got skipped=%v reason=%q", tt.classID, tt.reason, cs.Skipped, cs.Reason)
		}
		if cs.Train != 0 || cs.Test != 0 {
			t.Errorf("Class %d contributed samples", tt.classID)
		}
	}

	if len(split.Summary.Classes) != 43 {
		t.Errorf("Expected a summary row per class, got %d", len(split.Summary.Classes))
	}
}

func TestLoadDeterministic(t *testing.T) {
	root := t.TempDir()
	writeClasses(t, root,
		datasettest.Class{ID: 0, Count: 14, Color: datasettest.Red},
		datasettest.Class{ID: 7, Count: 11, Color: datasettest.Blue},
	)

	loader := NewLoader(root, Options{})
	first, err := loader.Load()
	if err != nil {
		t.Fatalf("First load failed: %v", err)
	}
	second, err := loader.Load()
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}

	if !reflect.DeepEqual(first.Train, second.Train) || !reflect.DeepEqual(first.Test, second.Test) {
		t.Error("Two loads of the same dataset produced different splits")
	}
	if !reflect.DeepEqual(first.Manifest, second.Manifest) {
		t.Error("Two loads of the same dataset produced different manifests")
	}
}

func TestLoadNoLeakage(t *testing.T) {
	root := t.TempDir()
	paths, err := datasettest.WriteClass(root, datasettest.Class{ID: 0, Count: 12, Color: datasettest.Red})
	if err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	split, err := NewLoader(root, Options{}).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	seen := map[string]string{}
	for _, entry := range split.Manifest {
		if prev, ok := seen[entry.Path]; ok {
			t.Fatalf("%s appears in both %s and %s", entry.Path, prev, entry.Partition)
		}
		seen[entry.Path] = entry.Partition
	}
	for i, path := range paths {
		want := string(PartitionTrain)
		if i >= 9 {
			want = string(PartitionTest)
		}
		if seen[path] != want {
			t.Errorf("%s: expected %s, got %s", filepath.Base(path), want, seen[path])
		}
	}
	if split.Manifest[0].Width != 32 || split.Manifest[0].RoiX2 != 31 {
		t.Errorf("Manifest not enriched from annotation table: %+v", split.Manifest[0])
	}
}

func TestLoadMissingRoot(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "missing"), Options{}).Load()
	if !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("Expected ErrDatasetNotFound, got %v", err)
	}
}

func TestLoadNoTrainingData(t *testing.T) {
	root := t.TempDir()
	writeClasses(t, root, datasettest.Class{ID: 3, Count: 4, Color: datasettest.Red})

	_, err := NewLoader(root, Options{}).Load()
	if !errors.Is(err, ErrDataUnavailable) {
		t.Fatalf("Expected ErrDataUnavailable, got %v", err)
	}
}

func TestLoadCorruptImage(t *testing.T) {
	root := t.TempDir()
	paths, err := datasettest.WriteClass(root, datasettest.Class{ID: 0, Count: 12, Color: datasettest.Red})
	if err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}
	if err := os.WriteFile(paths[2], []byte("P6\n32 32\n255\ntruncated"), 0644); err != nil {
		t.Fatalf("Failed to corrupt image: %v", err)
	}

	t.Run("skips and warns by default", func(t *testing.T) {
		split, err := NewLoader(root, Options{}).Load()
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		cs, _ := split.Summary.Class(0)
		if cs.Failed != 1 {
			t.Errorf("Expected 1 failed image, got %d", cs.Failed)
		}
		// The split boundary is computed over discovered files, so the
		// test partition is unaffected by a corrupt training image.
		if cs.Train != 8 || cs.Test != 3 {
			t.Errorf("Expected train=8 test=3, got train=%d test=%d", cs.Train, cs.Test)
		}
		for _, entry := range split.Manifest {
			if entry.Path == paths[2] {
				t.Error("Corrupt image must not appear in the manifest")
			}
		}
	})

	t.Run("fails when configured", func(t *testing.T) {
		_, err := NewLoader(root, Options{FailOnDecodeError: true}).Load()
		if !errors.Is(err, ErrCorruptImage) {
			t.Fatalf("Expected ErrCorruptImage, got %v", err)
		}
	})
}

func TestSetInputsSharesPixels(t *testing.T) {
	root := t.TempDir()
	writeClasses(t, root, datasettest.Class{ID: 0, Count: 10, Color: datasettest.Blue})

	split, err := NewLoader(root, Options{}).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	inputs := split.Train.Inputs()
	if len(inputs) != split.Train.Len() {
		t.Fatalf("Expected %d inputs, got %d", split.Train.Len(), len(inputs))
	}
	if &inputs[0][0] != &split.Train.Images[0].Pix[0] {
		t.Error("Inputs should alias the tensors instead of copying them")
	}
}
