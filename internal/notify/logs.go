package notify

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// tailWindow bounds how much of each log file is read
const tailWindow = 64 * 1024

// TailLogs returns the last n lines of each existing, non-empty file under a
// per-file header. It returns "" when there is nothing to show.
func TailLogs(files []string, n int) string {
	if n <= 0 {
		return ""
	}

	var b strings.Builder
	for _, path := range files {
		lines, err := tail(path, n)
		if err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(&b, "\nCould not read %s: %v\n", path, err)
			}
			continue
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s (last %d lines) ---\n", filepath.Base(path), len(lines))
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	partial := false
	if info.Size() > tailWindow {
		if _, err := f.Seek(-tailWindow, io.SeekEnd); err != nil {
			return nil, err
		}
		partial = true
	}

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 4096), tailWindow)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	// the first line after a seek is usually cut
	if partial && len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}
