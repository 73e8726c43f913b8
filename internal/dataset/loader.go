package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lehigh-university-libraries/trafficsign/internal/catalog"
	"github.com/lehigh-university-libraries/trafficsign/internal/images"
)

const (
	DefaultMinImages     = 10
	DefaultTrainFraction = 0.8
	DefaultImageSize     = 32
	DefaultExtension     = ".ppm"

	// DownloadURL is where the GTSRB training archive is published.
	DownloadURL = "http://benchmark.ini.rub.de/"
	// ArchiveURL is the training image archive fetched by Downloader.
	ArchiveURL = "https://sid.erda.dk/public/archives/daaeac0d7ce1152aea9b61d9f1e19370/GTSRB_Final_Training_Images.zip"
)

var (
	// ErrDatasetNotFound means the dataset root directory is missing.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrDataUnavailable means no class produced any training samples.
	ErrDataUnavailable = errors.New("no valid training data loaded")
	// ErrCorruptImage is returned for undecodable images when
	// Options.FailOnDecodeError is set.
	ErrCorruptImage = errors.New("corrupt image")
)

// Options tunes the loader. Zero values fall back to the defaults above.
type Options struct {
	NumClasses    int
	MinImages     int
	TrainFraction float64
	ImageSize     int
	Extension     string

	// FailOnDecodeError aborts the load on the first undecodable image
	// instead of skipping it with a warning.
	FailOnDecodeError bool
}

// Loader reads the GTSRB training layout: <root>/<%05d>/GT-<%05d>.csv plus
// the class's image files.
type Loader struct {
	root string
	opts Options
}

// NewLoader creates a new dataset loader rooted at root.
func NewLoader(root string, opts Options) *Loader {
	if opts.NumClasses <= 0 {
		opts.NumClasses = catalog.NumClasses
	}
	if opts.MinImages <= 0 {
		opts.MinImages = DefaultMinImages
	}
	if opts.TrainFraction <= 0 || opts.TrainFraction >= 1 {
		opts.TrainFraction = DefaultTrainFraction
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = DefaultImageSize
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	return &Loader{root: root, opts: opts}
}

// ClassDirName returns the zero-padded directory name of a class.
func ClassDirName(classID int) string {
	return fmt.Sprintf("%05d", classID)
}

// AnnotationFileName returns the annotation table name of a class.
func AnnotationFileName(classID int) string {
	return fmt.Sprintf("GT-%05d.csv", classID)
}

// SplitIndex returns floor(fraction * n).
func SplitIndex(n int, fraction float64) int {
	return int(math.Floor(fraction*float64(n) + 1e-9))
}

// Load decodes every usable class into memory and splits each class into
// train and test partitions.
func (l *Loader) Load() (*Split, error) {
	info, err := os.Stat(l.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w at %q: run `trafficsign download` or fetch the GTSRB training set from %s", ErrDatasetNotFound, l.root, DownloadURL)
	}

	slog.Debug("Loading dataset", "root", l.root, "classes", l.opts.NumClasses, "image_size", l.opts.ImageSize)

	split := &Split{}
	for classID := 0; classID < l.opts.NumClasses; classID++ {
		cs, err := l.loadClass(classID, split)
		if err != nil {
			return nil, err
		}
		split.Summary.add(cs)
	}

	if split.Train.Len() == 0 {
		return nil, fmt.Errorf("%w: check dataset integrity under %q", ErrDataUnavailable, l.root)
	}

	slog.Info("Dataset loaded",
		"train_samples", split.Train.Len(),
		"test_samples", split.Test.Len(),
		"classes_loaded", split.Summary.ClassesLoaded,
		"classes", l.opts.NumClasses)

	return split, nil
}

func (l *Loader) loadClass(classID int, split *Split) (ClassSummary, error) {
	cs := ClassSummary{ClassID: classID, Label: catalog.Label(classID)}
	classDir := filepath.Join(l.root, ClassDirName(classID))
	csvPath := filepath.Join(classDir, AnnotationFileName(classID))

	if info, err := os.Stat(classDir); err != nil || !info.IsDir() {
		return skipClass(cs, "class directory not found", "path", classDir), nil
	}

	annotations, err := ReadAnnotations(csvPath)
	if errors.Is(err, fs.ErrNotExist) {
		return skipClass(cs, "annotation table not found", "path", csvPath), nil
	}
	if err != nil {
		return skipClass(cs, "unreadable annotation table", "path", csvPath, "error", err), nil
	}

	files, err := l.discover(classDir)
	if err != nil {
		return skipClass(cs, "failed to list images", "path", classDir, "error", err), nil
	}
	cs.Discovered = len(files)

	if len(files) < l.opts.MinImages {
		return skipClass(cs, "insufficient images", "found", len(files), "minimum", l.opts.MinImages), nil
	}

	if missing := countMissing(files, annotations); missing > 0 {
		slog.Debug("Images without annotation rows", "class", classID, "missing", missing, "rows", len(annotations))
	}

	splitIdx := SplitIndex(len(files), l.opts.TrainFraction)
	for i, name := range files {
		path := filepath.Join(classDir, name)
		tensor, err := images.Decode(path, l.opts.ImageSize)
		if err != nil {
			if l.opts.FailOnDecodeError {
				return cs, fmt.Errorf("%w: %w", ErrCorruptImage, err)
			}
			slog.Warn("Skipping unreadable image", "class", classID, "path", path, "error", err)
			cs.Failed++
			continue
		}

		partition := PartitionTrain
		if i >= splitIdx {
			partition = PartitionTest
		}
		if partition == PartitionTrain {
			split.Train.append(tensor, classID)
			cs.Train++
		} else {
			split.Test.append(tensor, classID)
			cs.Test++
		}
		split.Manifest = append(split.Manifest, newManifestEntry(classID, path, partition, annotations[name]))
	}

	if cs.Train+cs.Test == 0 {
		return skipClass(cs, "no decodable images", "path", classDir), nil
	}

	slog.Debug("Loaded class", "class", classID, "train", cs.Train, "test", cs.Test, "failed", cs.Failed)
	return cs, nil
}

// discover lists image files in dir sorted lexicographically by name.
func (l *Loader) discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), l.opts.Extension) {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

func skipClass(cs ClassSummary, reason string, attrs ...any) ClassSummary {
	cs.Skipped = true
	cs.Reason = reason
	slog.Warn("Skipping class", append([]any{"class", cs.ClassID, "reason", reason}, attrs...)...)
	return cs
}

func countMissing(files []string, annotations map[string]Annotation) int {
	missing := 0
	for _, name := range files {
		if _, ok := annotations[name]; !ok {
			missing++
		}
	}
	return missing
}

func newManifestEntry(classID int, path string, partition Partition, a Annotation) ManifestEntry {
	return ManifestEntry{
		ClassID:   int32(classID),
		Path:      path,
		Partition: string(partition),
		Width:     int32(a.Width),
		Height:    int32(a.Height),
		RoiX1:     int32(a.RoiX1),
		RoiY1:     int32(a.RoiY1),
		RoiX2:     int32(a.RoiX2),
		RoiY2:     int32(a.RoiY2),
	}
}
