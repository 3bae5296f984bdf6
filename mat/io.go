package mat

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ReadDense reads a dense real matrix stored one row per line, with entries separated by whitespace or commas.
// Blank lines and lines starting with # are skipped.
func ReadDense(fpath string) (*mat.Dense, error) {
	f, err := os.Open(fpath)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	defer f.Close()

	var data []float64
	var rows, cols int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1<<16), 1<<26)
	for lineno := 1; scanner.Scan(); lineno++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
		if cols == 0 {
			cols = len(fields)
		}
		if len(fields) != cols {
			return nil, errors.Errorf("%s:%d: %d columns, expected %d", fpath, lineno, len(fields), cols)
		}
		for _, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%s:%d", fpath, lineno))
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "")
	}
	if rows == 0 {
		return nil, errors.Errorf("%s: empty", fpath)
	}
	return mat.NewDense(rows, cols, data), nil
}

// WriteDense writes a in the format read by ReadDense.
func WriteDense(fpath string, a mat.Matrix) error {
	r, c := a.Dims()
	var b strings.Builder
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(FormatNumpy(a.At(i, j)))
		}
		b.WriteByte('\n')
	}
	if err := os.WriteFile(fpath, []byte(b.String()), 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}
