package ebas

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// VarDef describes one dependent column of a NASA Ames file: the EBAS
// component name, its unit and the comma separated key=value qualifiers
// from the definition line.
type VarDef struct {
	Name   string
	Unit   string
	IsFlag bool
	// FlagCol is the index of the numflag column governing this one, -1
	// when the file carries none.
	FlagCol int
	Meta    map[string]string
}

// Matrix returns the column's matrix qualifier, "" when absent.
func (v VarDef) Matrix() string { return v.Meta["matrix"] }

// Statistics returns the column's statistics qualifier, "" when absent.
func (v VarDef) Statistics() string { return v.Meta["statistics"] }

// WavelengthNm parses a "Wavelength=550.0 nm" qualifier.
func (v VarDef) WavelengthNm() (float64, bool) {
	raw, ok := v.Meta["wavelength"]
	if !ok {
		return 0, false
	}
	num := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "nm"))
	w, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return w, true
}

// File is one EBAS NASA Ames (format index 1001) data file reduced to the
// parts the reader consumes: originator, reference dates, column
// definitions, the key: value metadata from the normal comment block and
// the numeric matrix in column order.
type File struct {
	PI      string
	RefDate time.Time
	RevDate time.Time
	VarDefs []VarDef
	// Meta holds the normal comment block, keys lowercased.
	Meta map[string]string
	// Starts and Ends are the per-row measurement intervals. Files
	// without an end_time column get zero-length intervals.
	Starts []time.Time
	Ends   []time.Time
	// Data holds one slice per VarDef, scaled, with missing values as NaN.
	Data [][]float64
}

// TimeStamps returns the measurement interval mid points.
func (f *File) TimeStamps() []time.Time {
	mids := make([]time.Time, len(f.Starts))
	for i, s := range f.Starts {
		mids[i] = s.Add(f.Ends[i].Sub(s) / 2)
	}
	return mids
}

// Parse reads path as the NASA Ames subset the EBAS archive uses: format
// index 1001, a single header block, a normal comment block of key: value
// pairs and a whitespace separated numeric matrix.
func Parse(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := parse(bufio.NewScanner(fh))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func parse(sc *bufio.Scanner) (*File, error) {
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	ls := &lineScanner{sc: sc}

	// line 1: header line count and format index
	head, err := ls.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(head)
	if len(fields) < 2 || fields[1] != "1001" {
		return nil, fmt.Errorf("not a NASA Ames 1001 file (first line %q)", head)
	}

	f := &File{Meta: make(map[string]string)}

	// line 2 names the data originator; organisation, submitter, project
	// and volume lines follow and are skipped
	pi, err := ls.next()
	if err != nil {
		return nil, err
	}
	f.PI = strings.TrimSpace(pi)
	if err := ls.skip(4); err != nil {
		return nil, err
	}

	// line 7: file reference date and revision date
	dates, err := ls.next()
	if err != nil {
		return nil, err
	}
	fields = strings.Fields(dates)
	if len(fields) < 6 {
		return nil, fmt.Errorf("line %d: bad date line %q", ls.n, dates)
	}
	if f.RefDate, err = dateFromFields(fields[0:3]); err != nil {
		return nil, fmt.Errorf("line %d: %w", ls.n, err)
	}
	if f.RevDate, err = dateFromFields(fields[3:6]); err != nil {
		return nil, fmt.Errorf("line %d: %w", ls.n, err)
	}

	// data interval and independent variable name
	if err := ls.skip(2); err != nil {
		return nil, err
	}

	nv, err := ls.nextInt()
	if err != nil {
		return nil, err
	}
	if nv < 1 {
		return nil, fmt.Errorf("line %d: file declares %d dependent columns", ls.n, nv)
	}
	scales, err := ls.nextFloats(nv)
	if err != nil {
		return nil, err
	}
	missing, err := ls.nextFloats(nv)
	if err != nil {
		return nil, err
	}

	defs := make([]VarDef, nv)
	for i := range defs {
		line, err := ls.next()
		if err != nil {
			return nil, err
		}
		defs[i] = parseVarDef(line)
	}
	assignFlagCols(defs)
	f.VarDefs = defs

	// special comments carry nothing the reader needs
	nscoml, err := ls.nextInt()
	if err != nil {
		return nil, err
	}
	if err := ls.skip(nscoml); err != nil {
		return nil, err
	}

	// normal comments carry the station metadata as key: value pairs; the
	// trailing tabular header line has no colon and falls through
	nncoml, err := ls.nextInt()
	if err != nil {
		return nil, err
	}
	for i := 0; i < nncoml; i++ {
		line, err := ls.next()
		if err != nil {
			return nil, err
		}
		if key, val, ok := strings.Cut(line, ":"); ok {
			f.Meta[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
		}
	}

	// data matrix: start offset in days from the reference date plus one
	// value per dependent column
	f.Data = make([][]float64, nv)
	endCol := endTimeCol(defs)
	for sc.Scan() {
		ls.n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != nv+1 {
			return nil, fmt.Errorf("line %d: expected %d columns, got %d", ls.n, nv+1, len(fields))
		}
		start, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ls.n, err)
		}
		for i := 0; i < nv; i++ {
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", ls.n, err)
			}
			if v == missing[i] {
				v = math.NaN()
			} else {
				v *= scales[i]
			}
			f.Data[i] = append(f.Data[i], v)
		}
		row := len(f.Data[0]) - 1
		f.Starts = append(f.Starts, f.RefDate.Add(days(start)))
		if endCol >= 0 && !math.IsNaN(f.Data[endCol][row]) {
			f.Ends = append(f.Ends, f.RefDate.Add(days(f.Data[endCol][row])))
		} else {
			f.Ends = append(f.Ends, f.Starts[row])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(f.Starts) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return f, nil
}

// parseVarDef splits a "name, unit, Key=value, ..." definition line.
// Qualifier keys are lowercased.
func parseVarDef(line string) VarDef {
	parts := strings.Split(line, ",")
	def := VarDef{
		Name:    strings.TrimSpace(parts[0]),
		FlagCol: -1,
		Meta:    make(map[string]string),
	}
	if len(parts) > 1 {
		def.Unit = strings.TrimSpace(parts[1])
	}
	for _, part := range parts[2:] {
		if key, val, ok := strings.Cut(part, "="); ok {
			def.Meta[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(val)
		}
	}
	def.IsFlag = strings.HasPrefix(def.Name, "numflag")
	return def
}

// assignFlagCols points every data column at the numflag column that
// governs it, which is the next flag column to its right.
func assignFlagCols(defs []VarDef) {
	flag := -1
	for i := len(defs) - 1; i >= 0; i-- {
		if defs[i].IsFlag {
			flag = i
			continue
		}
		defs[i].FlagCol = flag
	}
}

// endTimeCol finds the end_time column, -1 when the file has none.
func endTimeCol(defs []VarDef) int {
	for i, d := range defs {
		if strings.HasPrefix(d.Name, "end_time") {
			return i
		}
	}
	return -1
}

// days converts a fractional day offset to a duration.
func days(d float64) time.Duration {
	return time.Duration(d * 24 * float64(time.Hour))
}

func dateFromFields(f []string) (time.Time, error) {
	var ymd [3]int
	for i, s := range f {
		v, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad date field %q", s)
		}
		ymd[i] = v
	}
	return time.Date(ymd[0], time.Month(ymd[1]), ymd[2], 0, 0, 0, 0, time.UTC), nil
}

// lineScanner counts lines so parse errors can point at them.
type lineScanner struct {
	sc *bufio.Scanner
	n  int
}

func (ls *lineScanner) next() (string, error) {
	if !ls.sc.Scan() {
		if err := ls.sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("file ends inside header after line %d", ls.n)
	}
	ls.n++
	return ls.sc.Text(), nil
}

func (ls *lineScanner) skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := ls.next(); err != nil {
			return err
		}
	}
	return nil
}

func (ls *lineScanner) nextInt() (int, error) {
	line, err := ls.next()
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("line %d: expected an integer, got an empty line", ls.n)
	}
	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("line %d: %w", ls.n, err)
	}
	return v, nil
}

func (ls *lineScanner) nextFloats(want int) ([]float64, error) {
	line, err := ls.next()
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(line)
	if len(fields) != want {
		return nil, fmt.Errorf("line %d: expected %d values, got %d", ls.n, want, len(fields))
	}
	vals := make([]float64, want)
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", ls.n, err)
		}
		vals[i] = v
	}
	return vals, nil
}
