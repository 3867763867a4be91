// Package mnistdata fetches the raw MNIST files. Decoding and
// normalization are left to gorgonia's MNIST loader; this package only
// makes sure the four IDX files exist on disk under the names that
// loader expects.
package mnistdata

import (
	"compress/gzip"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// File names gorgonia's examples/mnist loader looks for.
const (
	TrainImagesFile = "train-images.idx3-ubyte"
	TrainLabelsFile = "train-labels.idx1-ubyte"
	TestImagesFile  = "t10k-images.idx3-ubyte"
	TestLabelsFile  = "t10k-labels.idx1-ubyte"
)

const mirrorURL = "https://ossci-datasets.s3.amazonaws.com/mnist/"

var remoteFiles = map[string]string{
	TrainImagesFile: "train-images-idx3-ubyte.gz",
	TrainLabelsFile: "train-labels-idx1-ubyte.gz",
	TestImagesFile:  "t10k-images-idx3-ubyte.gz",
	TestLabelsFile:  "t10k-labels-idx1-ubyte.gz",
}

// Ensure downloads and unpacks any of the four MNIST files missing
// from dir. Files already present are left alone, so a second run does
// no network traffic.
func Ensure(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mnistdata: creating %s", dir)
	}
	for name, remote := range remoteFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := fetch(mirrorURL+remote, path); err != nil {
			return errors.Wrapf(err, "mnistdata: fetching %s", name)
		}
	}
	return nil
}

func fetch(url, dest string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("GET %s: %s", url, resp.Status)
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return err
	}
	defer gz.Close()

	// Unpack to a temp name first so an interrupted download never
	// leaves a partial file that a later run would mistake for data.
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, gz); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
