package transcript

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// PreambleLines is the number of metadata lines at the top of every transcript
// export. Their content is not validated.
const PreambleLines = 6

// maxLineBytes bounds a single transcript line.
const maxLineBytes = 1 << 20

// Columns lists the positional column names assigned to every data row,
// regardless of any header text present in the file.
var Columns = [...]string{
	"MediaFilename",
	"Channel",
	"Type",
	"Phrase",
	"Score",
	"StartTimeCs",
	"EndTimeCs",
}

// Load reads the tab-delimited transcript at path.
//
// It returns an error matching [ErrTranscriptNotFound] when path is not a
// readable regular file. Every other failure is reported as a *[ParsingError]
// carrying path.
func Load(path string) ([]Row, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %q", ErrTranscriptNotFound, path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %q: %v", ErrTranscriptNotFound, path, err)
		}
		return nil, &ParsingError{Path: path, Row: -1, Err: err}
	}
	defer f.Close()

	return ReadRows(f, path)
}

// ReadRows parses transcript rows from r. path is only used to annotate
// errors and may be empty.
//
// The first [PreambleLines] lines are skipped. The first record after the
// preamble is treated as a column header and discarded when its Channel field
// is not an integer; otherwise it is parsed as data.
//
// Records are split on tabs only. Quote characters carry no meaning and are
// kept in the field text. Blank lines are ignored.
func ReadRows(r io.Reader, path string) ([]Row, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if err := skipPreamble(sc); err != nil {
		return nil, &ParsingError{Path: path, Row: -1, Err: err}
	}

	var rows []Row
	first := true
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		record := strings.Split(line, "\t")
		if len(record) != len(Columns) {
			return nil, &ParsingError{
				Path: path,
				Row:  len(rows),
				Err:  fmt.Errorf("got %d fields, want %d", len(record), len(Columns)),
			}
		}

		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}

		row, err := parseRow(record)
		if err != nil {
			return nil, &ParsingError{Path: path, Row: len(rows), Err: err}
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, &ParsingError{Path: path, Row: len(rows), Err: err}
	}
	return rows, nil
}

func skipPreamble(sc *bufio.Scanner) error {
	for i := 0; i < PreambleLines; i++ {
		if sc.Scan() {
			continue
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read preamble: %w", err)
		}
		return fmt.Errorf("preamble truncated after %d of %d lines", i, PreambleLines)
	}
	return nil
}

func isHeader(record []string) bool {
	_, err := strconv.Atoi(strings.TrimSpace(record[1]))
	return err != nil
}

func parseRow(record []string) (Row, error) {
	channel, err := strconv.Atoi(strings.TrimSpace(record[1]))
	if err != nil {
		return Row{}, fmt.Errorf("column %s: %w", Columns[1], err)
	}

	score := math.NaN()
	if s := strings.TrimSpace(record[4]); s != "" {
		score, err = strconv.ParseFloat(s, 64)
		if err != nil {
			return Row{}, fmt.Errorf("column %s: %w", Columns[4], err)
		}
	}

	start, err := strconv.ParseInt(strings.TrimSpace(record[5]), 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("column %s: %w", Columns[5], err)
	}
	end, err := strconv.ParseInt(strings.TrimSpace(record[6]), 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("column %s: %w", Columns[6], err)
	}

	return Row{
		MediaFilename: record[0],
		Channel:       channel,
		Type:          record[2],
		Phrase:        record[3],
		Score:         score,
		StartTimeCs:   start,
		EndTimeCs:     end,
	}, nil
}
