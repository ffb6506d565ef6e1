package evaluation

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// CSVHeader is the header of a similarity results file.
var CSVHeader = []string{
	"epoch", "steps",
	"cosine_pearson", "cosine_spearman",
	"euclidean_pearson", "euclidean_spearman",
	"manhattan_pearson", "manhattan_spearman",
	"dot_pearson", "dot_spearman",
}

// AppendCSV appends res to the results file at path, writing the header
// first when the file is new.
func AppendCSV(path string, res *Result) error {
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}

	w := csv.NewWriter(f)
	if isNew {
		w.Write(CSVHeader)
	}
	row := []string{strconv.Itoa(res.Epoch), strconv.Itoa(res.Steps)}
	for _, fn := range Functions {
		c := res.Scores[fn]
		row = append(row, formatScore(c.Pearson), formatScore(c.Spearman))
	}
	w.Write(row)
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("write results file: %w", err)
	}
	return f.Close()
}

// ReadCSV reads every row of a results file.
func ReadCSV(path string) ([]Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(CSVHeader)
	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []Result
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		res, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, res)
	}
	return out, nil
}

func parseRow(rec []string) (Result, error) {
	epoch, err := strconv.Atoi(rec[0])
	if err != nil {
		return Result{}, err
	}
	steps, err := strconv.Atoi(rec[1])
	if err != nil {
		return Result{}, err
	}
	res := Result{Epoch: epoch, Steps: steps, Scores: map[SimilarityFunction]Correlation{}}
	for i, fn := range Functions {
		p, err := strconv.ParseFloat(rec[2+2*i], 64)
		if err != nil {
			return Result{}, err
		}
		s, err := strconv.ParseFloat(rec[3+2*i], 64)
		if err != nil {
			return Result{}, err
		}
		res.Scores[fn] = Correlation{Pearson: p, Spearman: s}
	}
	return res, nil
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
