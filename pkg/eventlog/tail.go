// Copyright (c) 2025 Heimgewebe
//
// This file is part of sichter.
//
// sichter is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package eventlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const reverseChunkSize = 32 * 1024

// reverseScanner yields the lines of a file from EOF toward the start
// without loading the whole file. A trailing partial line (no newline yet)
// comes out as-is and is expected to fail JSON parsing downstream.
type reverseScanner struct {
	file   *os.File
	offset int64
	lines  []string
	carry  []byte
}

func newReverseScanner(file *os.File) (*reverseScanner, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return &reverseScanner{file: file, offset: info.Size()}, nil
}

// Next returns the previous non-empty line, walking backwards.
func (s *reverseScanner) Next() (string, bool, error) {
	for {
		for len(s.lines) > 0 {
			line := s.lines[len(s.lines)-1]
			s.lines = s.lines[:len(s.lines)-1]
			if line != "" {
				return line, true, nil
			}
		}

		if s.offset == 0 {
			if len(s.carry) > 0 {
				line := string(s.carry)
				s.carry = nil
				if line != "" {
					return line, true, nil
				}
			}
			return "", false, nil
		}

		size := int64(reverseChunkSize)
		if s.offset < size {
			size = s.offset
		}
		s.offset -= size

		buf := make([]byte, size, size+int64(len(s.carry)))
		if _, err := s.file.ReadAt(buf, s.offset); err != nil {
			return "", false, err
		}
		buf = append(buf, s.carry...)
		s.carry = nil

		parts := bytes.Split(buf, []byte("\n"))
		if s.offset > 0 {
			// First segment may continue a line from the previous chunk.
			s.carry = append([]byte(nil), parts[0]...)
			parts = parts[1:]
		}
		s.lines = s.lines[:0]
		for _, part := range parts {
			s.lines = append(s.lines, string(part))
		}
	}
}

// Record is a tailed event line with its parsed timestamp.
type Record struct {
	TS   time.Time
	Line string
}

// Tail returns the newest n records across all daily files, newest-first.
// Files whose mtime is older than since (epoch seconds, 0 = no filter) are
// skipped, as are records with invalid JSON, a missing or unparseable ts,
// or a ts older than since. Files are streamed from the end; the scan
// stops as soon as n valid records have been collected.
func Tail(dir string, n int, since float64) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list event directory: %w", err)
	}

	type candidate struct {
		path  string
		mtime time.Time
	}
	var files []candidate
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if since > 0 && float64(info.ModTime().Unix()) < since {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, entry.Name()), mtime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mtime.After(files[j].mtime) })

	records := make([]Record, 0, n)
	for _, cand := range files {
		if len(records) >= n {
			break
		}
		if err := tailFile(cand.path, n, since, &records); err != nil {
			// Read races with rotation are transient; skip the file.
			continue
		}
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].TS.After(records[j].TS) })
	return records, nil
}

func tailFile(path string, n int, since float64, records *[]Record) error {
	file, err := os.Open(path) // #nosec G304 -- path from the configured event directory
	if err != nil {
		return err
	}
	defer file.Close()

	scanner, err := newReverseScanner(file)
	if err != nil {
		return err
	}

	for len(*records) < n {
		line, ok, err := scanner.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ts, valid := parseRecordTS(line)
		if !valid {
			continue
		}
		if since > 0 && float64(ts.Unix()) < since {
			continue
		}
		*records = append(*records, Record{TS: ts, Line: line})
	}
	return nil
}

// TailLines returns the last ≤n non-empty lines of one file in file order.
// Used by the live stream for replay.
func TailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	file, err := os.Open(path) // #nosec G304 -- path from the configured event directory
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner, err := newReverseScanner(file)
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, n)
	for len(lines) < n {
		line, ok, err := scanner.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		lines = append(lines, line)
	}

	// Reverse into file order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

func parseRecordTS(line string) (time.Time, bool) {
	var event struct {
		TS string `json:"ts"`
	}
	if err := json.Unmarshal([]byte(line), &event); err != nil {
		return time.Time{}, false
	}
	if event.TS == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, event.TS)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
