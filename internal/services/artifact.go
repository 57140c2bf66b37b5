package services

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const partSuffix = ".part"

// artifact is an output file written to a temporary ".part" path first and
// renamed into place once its record has been committed, so a record never
// points at a half-written file.
type artifact struct {
	Name string
	Path string
	Tmp  string
}

// newArtifact picks a unique name like transcription_20240907_153000_<uuid>.txt
// and creates its directory. Dated artifacts go under dir/YYYY/MM/DD.
func newArtifact(dir, prefix, ext string, now time.Time, dated bool) (artifact, error) {
	if dated {
		dir = filepath.Join(dir, now.Format("2006"), now.Format("01"), now.Format("02"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return artifact{}, fmt.Errorf("create output dir %s: %w", dir, err)
	}

	name := fmt.Sprintf("%s_%s_%s%s", prefix, now.Format("20060102_150405"), uuid.NewString(), ext)
	path := filepath.Join(dir, name)
	return artifact{Name: name, Path: path, Tmp: path + partSuffix}, nil
}

func (a artifact) commit() error {
	return os.Rename(a.Tmp, a.Path)
}

// discard removes whichever of the two files exist.
func (a artifact) discard() error {
	var errs []error
	for _, p := range []string{a.Tmp, a.Path} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
