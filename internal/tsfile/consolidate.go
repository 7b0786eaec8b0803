package tsfile

import (
	"bufio"
	"compress/gzip"
	"container/heap"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// rawLine is one "<ts> <value>" line from a not-yet-consolidated file,
// with its millisecond timestamp parsed out for sorting.
type rawLine struct {
	ts    int64
	value string
}

func parseRawLine(line string) (rawLine, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return rawLine{}, false
	}
	ts, rest, found := strings.Cut(line, " ")
	if !found {
		// a corrupt line with no separator: skip it, per spec's
		// "corrupt line -> skipped" error handling.
		return rawLine{}, false
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		logger.WithField("line", line).Warn("malformed timestamp, dropping line")
		return rawLine{}, false
	}
	return rawLine{ts: n, value: rest}, true
}

func readRawLines(path string) ([]rawLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []rawLine
	r := bufio.NewReaderSize(f, 64*1024)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			if rl, ok := parseRawLine(line); ok {
				out = append(out, rl)
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
	}
	return out, nil
}

// consolidate sorts and merges the rotated "<uid>.tsc" file inside dir
// into a compressed, time-bounded archive, then offers it to upload if
// set. Failures are logged and leave the .tsc file in place for
// operator-driven retry.
func consolidate(dir, uid string, upload func(path string) error) {
	tscPath := filepath.Join(dir, uid+".tsc")
	archivePath, err := consolidateFile(dir, uid, tscPath)
	if err != nil {
		logger.WithError(err).WithField("uid", uid).Warn("consolidation failed")
		return
	}
	if archivePath == "" || upload == nil {
		return
	}
	if err := upload(archivePath); err != nil {
		logger.WithError(err).WithField("archive", archivePath).Warn("archive upload failed, local copy remains the copy of record")
	}
}

func consolidateFile(dir, uid, tscPath string) (string, error) {
	st, err := os.Stat(tscPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", tscPath, err)
	}

	buildPath := filepath.Join(dir, uid+".build")
	bf, err := os.Create(buildPath)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", buildPath, err)
	}

	var (
		minTS, maxTS int64
		haveAny      bool
		spillFiles   []string
		gerr         error
	)
	defer func() {
		for _, p := range spillFiles {
			os.Remove(p)
		}
	}()

	gw := gzip.NewWriter(bf)

	emit := func(tsMillis int64, value string) {
		tsSec := float64(tsMillis) / 1000.0
		if !haveAny {
			minTS = int64(tsSec)
			haveAny = true
		}
		maxTS = int64(tsSec)
		fmt.Fprintf(gw, "%s %s\n", strconv.FormatFloat(tsSec, 'f', -1, 64), value)
	}

	if st.Size() <= SortThreshold {
		lines, err := readRawLines(tscPath)
		if err != nil {
			gerr = err
		} else {
			sort.SliceStable(lines, func(i, j int) bool { return lines[i].ts < lines[j].ts })
			for _, l := range lines {
				emit(l.ts, l.value)
			}
		}
	} else {
		spillFiles, gerr = sortSpill(tscPath, dir, SortThreshold)
		if gerr == nil {
			gerr = mergeSpills(spillFiles, emit)
		}
	}

	if cerr := gw.Close(); cerr != nil && gerr == nil {
		gerr = cerr
	}
	if cerr := bf.Close(); cerr != nil && gerr == nil {
		gerr = cerr
	}

	if gerr != nil {
		os.Remove(buildPath)
		return "", gerr
	}

	if !haveAny {
		// an empty rotated file still needs to disappear.
		os.Remove(buildPath)
		return "", os.Remove(tscPath)
	}

	archiveName := fmt.Sprintf("%d.%d.%s", minTS, maxTS-minTS, uid)
	archivePath := filepath.Join(dir, archiveName)
	if err := os.Rename(buildPath, archivePath); err != nil {
		return "", fmt.Errorf("rename archive: %w", err)
	}
	if err := os.Remove(tscPath); err != nil {
		logger.WithError(err).Warn("failed to remove consolidated .tsc source")
	}
	return archivePath, nil
}

// sortSpill slices path into chunks whose cumulative byte length stays
// under threshold, sorts each chunk in memory, and spills it to a
// uniquely named temp file, returning the spill paths in write order.
func sortSpill(path, dir string, threshold int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var spills []string
	r := bufio.NewReaderSize(f, 64*1024)
	var chunk []rawLine
	var size int64

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		sort.SliceStable(chunk, func(i, j int) bool { return chunk[i].ts < chunk[j].ts })

		tmp, err := os.CreateTemp(dir, "ts_sort_")
		if err != nil {
			return err
		}
		w := bufio.NewWriter(tmp)
		for _, l := range chunk {
			fmt.Fprintf(w, "%d %s\n", l.ts, l.value)
		}
		if err := w.Flush(); err != nil {
			tmp.Close()
			return err
		}
		if err := tmp.Close(); err != nil {
			return err
		}
		spills = append(spills, tmp.Name())
		chunk = nil
		size = 0
		return nil
	}

	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 {
			if rl, ok := parseRawLine(line); ok {
				chunk = append(chunk, rl)
				size += int64(len(line))
				if size >= threshold {
					if ferr := flush(); ferr != nil {
						return spills, ferr
					}
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return spills, err
		}
	}
	if ferr := flush(); ferr != nil {
		return spills, ferr
	}
	return spills, nil
}

// spillCursor is one open spill-file reader in the k-way merge heap.
type spillCursor struct {
	r      *bufio.Reader
	f      *os.File
	cur    rawLine
	exists bool
}

func (c *spillCursor) advance() error {
	line, err := c.r.ReadString('\n')
	for len(line) == 0 && err == nil {
		line, err = c.r.ReadString('\n')
	}
	if len(line) > 0 {
		if rl, ok := parseRawLine(line); ok {
			c.cur = rl
			c.exists = true
			return nil
		}
		// skip malformed lines and keep looking.
		return c.advance()
	}
	c.exists = false
	if err == io.EOF {
		return nil
	}
	return err
}

type cursorHeap []*spillCursor

func (h cursorHeap) Len() int            { return len(h) }
func (h cursorHeap) Less(i, j int) bool  { return h[i].cur.ts < h[j].cur.ts }
func (h cursorHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cursorHeap) Push(x interface{}) { *h = append(*h, x.(*spillCursor)) }
func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeSpills performs a k-way merge of sorted spill files, invoking
// emit in non-decreasing timestamp order.
func mergeSpills(paths []string, emit func(ts int64, value string)) error {
	var cursors []*spillCursor
	defer func() {
		for _, c := range cursors {
			c.f.Close()
		}
	}()

	h := &cursorHeap{}
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		c := &spillCursor{r: bufio.NewReaderSize(f, 64*1024), f: f}
		cursors = append(cursors, c)
		if err := c.advance(); err != nil {
			return err
		}
		if c.exists {
			heap.Push(h, c)
		}
	}

	for h.Len() > 0 {
		c := heap.Pop(h).(*spillCursor)
		emit(c.cur.ts, c.cur.value)
		if err := c.advance(); err != nil {
			return err
		}
		if c.exists {
			heap.Push(h, c)
		}
	}
	return nil
}
