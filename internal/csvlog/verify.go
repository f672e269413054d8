package csvlog

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ppiankov/sniffer/internal/event"
)

// VerifyResult holds the outcome of a log format check.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Rows      int    `json:"rows"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"error_line,omitempty"`
}

// Row is one parsed data line of a CSV log.
type Row struct {
	ThreadName string
	ThreadID   int64
	Class      string
	Method     string
	Begin      time.Time
	End        time.Time
	TimeTaken  int64
}

// ParseRow splits a data line into its columns.
func ParseRow(line string) (Row, error) {
	fields := strings.Split(line, ",")
	if len(fields) != event.Columns {
		return Row{}, fmt.Errorf("expected %d fields, got %d", event.Columns, len(fields))
	}

	id, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("thread_id: %w", err)
	}
	begin, err := time.Parse(event.TimestampFormat, fields[4])
	if err != nil {
		return Row{}, fmt.Errorf("begin_time: %w", err)
	}
	end, err := time.Parse(event.TimestampFormat, fields[5])
	if err != nil {
		return Row{}, fmt.Errorf("end_time: %w", err)
	}
	taken, err := strconv.ParseInt(fields[6], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("time_taken: %w", err)
	}

	return Row{
		ThreadName: fields[0],
		ThreadID:   id,
		Class:      fields[2],
		Method:     fields[3],
		Begin:      begin,
		End:        end,
		TimeTaken:  taken,
	}, nil
}

// Verify reads a CSV log and checks the header and every row. Rows must have
// end >= begin and a time_taken within one millisecond of end-begin, since
// the timestamps are printed at microsecond precision.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	rows := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		if lineNum == 1 {
			if line != event.Header {
				return VerifyResult{
					Error:     fmt.Sprintf("header is %q, expected %q", line, event.Header),
					ErrorLine: 1,
				}
			}
			continue
		}

		row, err := ParseRow(line)
		if err != nil {
			return VerifyResult{Rows: rows, Error: err.Error(), ErrorLine: lineNum}
		}
		if row.End.Before(row.Begin) {
			return VerifyResult{Rows: rows, Error: "end_time before begin_time", ErrorLine: lineNum}
		}
		if row.TimeTaken < 0 {
			return VerifyResult{Rows: rows, Error: "negative time_taken", ErrorLine: lineNum}
		}
		diff := row.End.Sub(row.Begin).Milliseconds() - row.TimeTaken
		if diff < -1 || diff > 1 {
			return VerifyResult{
				Rows:      rows,
				Error:     fmt.Sprintf("time_taken %d inconsistent with timestamps (%v)", row.TimeTaken, row.End.Sub(row.Begin)),
				ErrorLine: lineNum,
			}
		}
		rows++
	}

	if err := scanner.Err(); err != nil {
		return VerifyResult{Rows: rows, Error: fmt.Sprintf("scan: %v", err)}
	}
	if lineNum == 0 {
		return VerifyResult{Error: "empty file: missing header", ErrorLine: 1}
	}

	return VerifyResult{Valid: true, Rows: rows}
}

// Tail returns the last n data rows of a CSV log, oldest first.
func Tail(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csvlog: open: %w", err)
	}
	defer f.Close()

	if n <= 0 {
		return nil, nil
	}

	ring := make([]string, 0, n)
	next := 0
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			if scanner.Text() == event.Header {
				continue
			}
		}
		if len(ring) < n {
			ring = append(ring, scanner.Text())
			continue
		}
		ring[next] = scanner.Text()
		next = (next + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("csvlog: read: %w", err)
	}

	return append(ring[next:], ring[:next]...), nil
}
