// Package dataset reads KorSTS-style similarity files.
//
// A similarity file is tab separated. Two row layouts are accepted:
//
//	sentence1 <TAB> sentence2 <TAB> score
//	genre <TAB> filename <TAB> year <TAB> id <TAB> score <TAB> sentence1 <TAB> sentence2
//
// The second is the layout of the published KorSTS files, which also carry a
// header row. Scores are on a 0-5 scale and are rescaled to [0,1].
package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxScore is the top of the raw similarity scale.
const MaxScore = 5.0

// Split names used by SplitPath.
const (
	Train = "train"
	Dev   = "dev"
	Test  = "test"
)

// ErrMalformedRow is returned when a row has the wrong number of columns or
// a score that is not a number.
var ErrMalformedRow = errors.New("malformed row")

// ErrScoreOutOfRange is returned when a raw score falls outside [0, MaxScore].
var ErrScoreOutOfRange = errors.New("score out of range")

// Example is one labeled sentence pair. Label is the raw score divided by
// MaxScore.
type Example struct {
	TextA string
	TextB string
	Label float64
}

// layout describes where the columns of one row layout live.
type layout struct {
	columns int
	textA   int
	textB   int
	score   int
}

var layouts = []layout{
	{columns: 3, textA: 0, textB: 1, score: 2},
	{columns: 7, textA: 5, textB: 6, score: 4},
}

// SplitPath returns the path of a split file inside dir, e.g. dir/sts-train.tsv.
func SplitPath(dir, split string) string {
	return filepath.Join(dir, "sts-"+split+".tsv")
}

// Load reads all examples from the file at path.
func Load(path string) ([]Example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	return Read(f, path)
}

// Read parses examples from r. name is used in error messages.
func Read(r io.Reader, name string) ([]Example, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var examples []Example
	lineNo := 0
	sawRow := false
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		lay, ok := layoutFor(len(fields))
		if !ok {
			return nil, fmt.Errorf("%s:%d: %w: expected 3 or 7 tab-separated columns, got %d",
				name, lineNo, ErrMalformedRow, len(fields))
		}

		rawScore := strings.TrimSpace(fields[lay.score])
		if !sawRow {
			sawRow = true
			if strings.EqualFold(rawScore, "score") {
				continue
			}
		}

		ex, err := parseExample(fields, lay, rawScore)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		examples = append(examples, ex)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	return examples, nil
}

func layoutFor(columns int) (layout, bool) {
	for _, l := range layouts {
		if l.columns == columns {
			return l, true
		}
	}
	return layout{}, false
}

func parseExample(fields []string, lay layout, rawScore string) (Example, error) {
	score, err := strconv.ParseFloat(rawScore, 64)
	if err != nil || math.IsNaN(score) {
		return Example{}, fmt.Errorf("%w: score %q is not a number", ErrMalformedRow, rawScore)
	}
	if score < 0 || score > MaxScore {
		return Example{}, fmt.Errorf("%w: %g not in [0, %g]", ErrScoreOutOfRange, score, MaxScore)
	}

	return Example{
		TextA: fields[lay.textA],
		TextB: fields[lay.textB],
		Label: score / MaxScore,
	}, nil
}
