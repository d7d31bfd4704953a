package diaglog

import "os"

// rollingWriter is an append-only writer that truncates the file to zero
// when the next write would exceed maxSize, so the most recent entries
// survive (the overflowing write lands fresh after truncation). Callers
// must serialise access; Logger holds the lock.
type rollingWriter struct {
	path    string
	maxSize int64
	f       *os.File
	size    int64
}

// newRollingWriter opens path (creating it if needed) and returns a writer
// capped at maxSize bytes.
func newRollingWriter(path string, maxSize int64) (*rollingWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &rollingWriter{path: path, maxSize: maxSize, f: f, size: info.Size()}, nil
}

// write appends p, truncating first if the cap would be exceeded. Every
// write is followed by a Sync so a crash loses at most the final entry.
func (rw *rollingWriter) write(p []byte) (int, error) {
	if rw.size+int64(len(p)) > rw.maxSize {
		if err := rw.f.Truncate(0); err != nil {
			return 0, err
		}
		if _, err := rw.f.Seek(0, 0); err != nil {
			return 0, err
		}
		rw.size = 0
	}

	n, err := rw.f.Write(p)
	if err != nil {
		return n, err
	}
	rw.size += int64(n)
	_ = rw.f.Sync()
	return n, nil
}

func (rw *rollingWriter) close() error {
	_ = rw.f.Sync()
	return rw.f.Close()
}
