package axona

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/banshee-data/cellglm/internal/fsutil"
)

var (
	// ErrUnknownFile is returned when an explicitly chosen file is not a
	// tetrode, position or cut file.
	ErrUnknownFile = errors.New("one of the chosen files was not a tetrode, position, or cut file")
	// ErrIncompleteSession is returned when a position, cut or tetrode file
	// is missing from the selection.
	ErrIncompleteSession = errors.New("a position, cut, or tetrode file was either not chosen, or not found in the directory")
)

// TetrodeFiles pairs a tetrode spike file with its cut file.
type TetrodeFiles struct {
	Number  int    `json:"number"`
	Tetrode string `json:"tetrode"`
	Cut     string `json:"cut"`
}

// SessionFiles is the set of files that make up one recording session.
type SessionFiles struct {
	Pos      string         `json:"pos"`
	Tetrodes []TetrodeFiles `json:"tetrodes"`
}

// Name returns the recording name, the position file without extension.
func (s *SessionFiles) Name() string {
	base := filepath.Base(s.Pos)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Tetrode returns the file pair for tetrode number n.
func (s *SessionFiles) Tetrode(n int) (TetrodeFiles, bool) {
	for _, t := range s.Tetrodes {
		if t.Number == n {
			return t, true
		}
	}
	return TetrodeFiles{}, false
}

// FileKind classifies a session file by its name.
type FileKind int

const (
	KindUnknown FileKind = iota
	KindPos
	KindCut
	KindTetrode
)

// Classify returns the kind of a session file and, for tetrode files, the
// tetrode number taken from the numeric extension.
func Classify(name string) (FileKind, int) {
	base := filepath.Base(name)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	switch {
	case strings.EqualFold(ext, "pos"):
		return KindPos, 0
	case strings.EqualFold(ext, "cut"):
		return KindCut, 0
	case ext != "":
		n, err := strconv.Atoi(ext)
		if err != nil || n <= 0 {
			return KindUnknown, 0
		}
		// name.clu.N files hold KlustaKwik clusters, not spikes
		if strings.EqualFold(filepath.Ext(strings.TrimSuffix(base, "."+ext)), ".clu") {
			return KindUnknown, 0
		}
		return KindTetrode, n
	}
	return KindUnknown, 0
}

// DiscoverSession resolves the files of a session from either a single
// directory or an explicit list of files. In directory mode unrelated files
// and tetrodes without a cut file are ignored; in list mode they are an
// error. Each tetrode name.N is paired
// with the cut file name_N.cut, or with the only cut file when exactly one
// was found.
func DiscoverSession(fsys fsutil.FileSystem, paths []string) (*SessionFiles, error) {
	var files []string
	strict := true
	if len(paths) == 1 {
		if info, err := fsys.Stat(paths[0]); err == nil && info.IsDir() {
			entries, err := fsys.ReadDir(paths[0])
			if err != nil {
				return nil, fmt.Errorf("list session directory: %w", err)
			}
			for _, e := range entries {
				if !e.IsDir() {
					files = append(files, filepath.Join(paths[0], e.Name()))
				}
			}
			strict = false
		}
	}
	if strict {
		files = paths
	}

	var posFiles, cutFiles []string
	tetrodes := make(map[string]int)
	for _, f := range files {
		kind, n := Classify(f)
		switch kind {
		case KindPos:
			posFiles = append(posFiles, f)
		case KindCut:
			cutFiles = append(cutFiles, f)
		case KindTetrode:
			tetrodes[f] = n
		default:
			if strict {
				return nil, fmt.Errorf("%w: %s", ErrUnknownFile, filepath.Base(f))
			}
		}
	}
	if len(posFiles) == 0 || len(cutFiles) == 0 || len(tetrodes) == 0 {
		return nil, ErrIncompleteSession
	}
	sort.Strings(posFiles)

	s := &SessionFiles{Pos: posFiles[0]}
	for tet, n := range tetrodes {
		cut, err := matchCut(tet, n, cutFiles)
		if err != nil {
			if strict {
				return nil, err
			}
			continue
		}
		s.Tetrodes = append(s.Tetrodes, TetrodeFiles{Number: n, Tetrode: tet, Cut: cut})
	}
	if len(s.Tetrodes) == 0 {
		return nil, ErrIncompleteSession
	}
	sort.Slice(s.Tetrodes, func(i, j int) bool {
		if s.Tetrodes[i].Number != s.Tetrodes[j].Number {
			return s.Tetrodes[i].Number < s.Tetrodes[j].Number
		}
		return s.Tetrodes[i].Tetrode < s.Tetrodes[j].Tetrode
	})
	return s, nil
}

func matchCut(tetrode string, n int, cuts []string) (string, error) {
	base := filepath.Base(tetrode)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	want := fmt.Sprintf("%s_%d.cut", stem, n)
	for _, c := range cuts {
		if strings.EqualFold(filepath.Base(c), want) {
			return c, nil
		}
	}
	if len(cuts) == 1 {
		return cuts[0], nil
	}
	return "", fmt.Errorf("no cut file %s for tetrode %s", want, base)
}
