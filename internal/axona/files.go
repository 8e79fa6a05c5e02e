package axona

import (
	"fmt"
	"io"

	"github.com/banshee-data/cellglm/internal/fsutil"
)

func readFile[T any](fsys fsutil.FileSystem, path string, decode func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := fsys.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	v, err := decode(f)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

// ReadTetrodeFile opens and decodes a tetrode spike file.
func ReadTetrodeFile(fsys fsutil.FileSystem, path string) (*Tetrode, error) {
	return readFile(fsys, path, ReadTetrode)
}

// ReadCutFile opens and decodes a cut file.
func ReadCutFile(fsys fsutil.FileSystem, path string) (*Cut, error) {
	return readFile(fsys, path, ReadCut)
}

// ReadPosFile opens and decodes a position file.
func ReadPosFile(fsys fsutil.FileSystem, path string) (*Position, error) {
	return readFile(fsys, path, ReadPos)
}
