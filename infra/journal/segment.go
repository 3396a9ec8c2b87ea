package journal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const segmentGlob = "segment-*.log"

type segment struct {
	file   *os.File
	w      *bufio.Writer
	offset int64
}

func segmentPath(dir string, index int) string {
	return filepath.Join(dir, fmt.Sprintf("segment-%06d.log", index))
}

func openSegment(dir string, index int) (*segment, error) {
	f, err := os.OpenFile(segmentPath(dir, index), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{file: f, w: bufio.NewWriterSize(f, 64<<10), offset: st.Size()}, nil
}

func (s *segment) append(b []byte) error {
	n, err := s.w.Write(b)
	s.offset += int64(n)
	return err
}

func (s *segment) sync() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *segment) close() error {
	if err := s.sync(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}

func segmentIndex(path string) int {
	var i int
	_, _ = fmt.Sscanf(filepath.Base(path), "segment-%06d.log", &i)
	return i
}

// segments lists segment files in index order.
func segments(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, segmentGlob))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
