package dataset

import (
	"compress/gzip"
	"encoding/binary"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Standard MNIST archive names, as published by the dataset mirrors.
const (
	TrainImagesFile = "train-images-idx3-ubyte.gz"
	TrainLabelsFile = "train-labels-idx1-ubyte.gz"
	TestImagesFile  = "t10k-images-idx3-ubyte.gz"
	TestLabelsFile  = "t10k-labels-idx1-ubyte.gz"
)

// DefaultBaseURL is the mirror used when an archive is missing from the
// local cache directory.
const DefaultBaseURL = "https://storage.googleapis.com/cvdf-datasets/mnist/"

const (
	imagesMagic = 0x00000803
	labelsMagic = 0x00000801

	// NumPixels is the flattened image size (28x28, row-major).
	NumPixels = 784
)

// Data holds a collection of flattened images with parallel labels.
// Images is n x 784 with pixel values in [0, 255/256]; Labels[i] is the
// digit class of row i. Both are treated as immutable once loaded.
type Data struct {
	Images *mat.Dense
	Labels []int
}

// Len returns the number of samples.
func (d *Data) Len() int {
	return len(d.Labels)
}

// Image returns the i-th image as a 784-element vector. The returned slice
// aliases the underlying storage and must not be modified.
func (d *Data) Image(i int) []float64 {
	return d.Images.RawRowView(i)
}

// NewData pairs an image matrix with its labels, failing fast on a
// row-count mismatch.
func NewData(images *mat.Dense, labels []int) (*Data, error) {
	rows, cols := images.Dims()
	if rows != len(labels) {
		return nil, errors.Errorf("dataset: %d images but %d labels", rows, len(labels))
	}
	if cols != NumPixels {
		return nil, errors.Errorf("dataset: expected %d pixels per image, got %d", NumPixels, cols)
	}
	return &Data{Images: images, Labels: labels}, nil
}

// Load reads the four MNIST archives from dir, downloading any missing file
// from DefaultBaseURL first. It returns the train and test collections.
func Load(dir string) (train, test *Data, err error) {
	loader := &Loader{Dir: dir, BaseURL: DefaultBaseURL}
	return loader.Load()
}

// Loader reads MNIST archives from a cache directory, optionally fetching
// them from a mirror. A zero BaseURL disables downloads.
type Loader struct {
	Dir     string
	BaseURL string
}

// Load reads the train and test image/label archive pairs.
func (l *Loader) Load() (train, test *Data, err error) {
	train, err = l.loadPair(TrainImagesFile, TrainLabelsFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading train set")
	}
	test, err = l.loadPair(TestImagesFile, TestLabelsFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "loading test set")
	}
	return train, test, nil
}

func (l *Loader) loadPair(imagesFile, labelsFile string) (*Data, error) {
	imagesPath, err := l.ensure(imagesFile)
	if err != nil {
		return nil, err
	}
	labelsPath, err := l.ensure(labelsFile)
	if err != nil {
		return nil, err
	}

	images, err := LoadImages(imagesPath)
	if err != nil {
		return nil, err
	}
	labels, err := LoadLabels(labelsPath)
	if err != nil {
		return nil, err
	}
	return NewData(images, labels)
}

// ensure returns the local path of name, downloading it when absent.
func (l *Loader) ensure(name string) (string, error) {
	path := filepath.Join(l.Dir, name)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if l.BaseURL == "" {
		return "", errors.Errorf("dataset file %s not found in %s", name, l.Dir)
	}
	if err := download(l.BaseURL+name, path); err != nil {
		return "", errors.Wrapf(err, "downloading %s", name)
	}
	return path, nil
}

func download(url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("download failed with status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

// LoadImages decodes a gzip-compressed IDX3 image archive into an n x 784
// matrix. Pixel bytes are scaled by 1/256 into [0, 255/256].
func LoadImages(path string) (*mat.Dense, error) {
	raw, err := readIDX(path, imagesMagic, 3)
	if err != nil {
		return nil, errors.Wrapf(err, "reading images from %s", path)
	}
	count := raw.dims[0]
	pixels := raw.dims[1] * raw.dims[2]
	if pixels != NumPixels {
		return nil, errors.Errorf("unexpected image size %dx%d in %s", raw.dims[1], raw.dims[2], path)
	}

	data := make([]float64, count*pixels)
	for i, b := range raw.payload {
		data[i] = float64(b) / 256.0
	}
	return mat.NewDense(count, pixels, data), nil
}

// LoadLabels decodes a gzip-compressed IDX1 label archive.
func LoadLabels(path string) ([]int, error) {
	raw, err := readIDX(path, labelsMagic, 1)
	if err != nil {
		return nil, errors.Wrapf(err, "reading labels from %s", path)
	}
	labels := make([]int, raw.dims[0])
	for i, b := range raw.payload {
		labels[i] = int(b)
	}
	return labels, nil
}

type idxFile struct {
	dims    []int
	payload []byte
}

// readIDX decodes the big-endian IDX header (magic + one uint32 per
// dimension) and slurps the byte payload.
func readIDX(path string, wantMagic uint32, numDims int) (*idxFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "opening gzip stream")
	}
	defer gz.Close()

	var magic uint32
	if err := binary.Read(gz, binary.BigEndian, &magic); err != nil {
		return nil, errors.Wrap(err, "reading magic number")
	}
	if magic != wantMagic {
		return nil, errors.Errorf("bad magic number 0x%08x, want 0x%08x", magic, wantMagic)
	}

	dims := make([]int, numDims)
	total := 1
	for i := range dims {
		var d uint32
		if err := binary.Read(gz, binary.BigEndian, &d); err != nil {
			return nil, errors.Wrapf(err, "reading dimension %d", i)
		}
		dims[i] = int(d)
		total *= int(d)
	}

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.Wrap(err, "reading payload")
	}
	if len(payload) != total {
		return nil, errors.Errorf("payload size %d does not match header dimensions %v", len(payload), dims)
	}
	return &idxFile{dims: dims, payload: payload}, nil
}
