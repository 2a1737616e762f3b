package converter

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/goccy/go-json"
)

// Output formats.
const (
	FormatCSV   = "csv"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
)

var ErrUnknownFormat = errors.New("unknown_export_format")

// Writer serializes a converter run.
type Writer interface {
	ContentType() string
	WriteHeader(cols []string) error
	WriteRow(row Row) error
	// Close finishes the document. JSON formats embed errs; CSV leaves them
	// to the caller.
	Close(errs *Errors) error
}

func NewWriter(format string, w io.Writer) (Writer, error) {
	switch strings.ToLower(format) {
	case "", FormatCSV:
		return &csvWriter{w: csv.NewWriter(w)}, nil
	case FormatJSON:
		return &jsonWriter{w: w}, nil
	case FormatJSONL:
		return &jsonlWriter{enc: json.NewEncoder(w)}, nil
	default:
		return nil, ErrUnknownFormat
	}
}

type csvWriter struct {
	w *csv.Writer
}

func (c *csvWriter) ContentType() string { return "text/csv; charset=utf-8" }

func (c *csvWriter) WriteHeader(cols []string) error {
	return c.w.Write(cols)
}

func (c *csvWriter) WriteRow(row Row) error {
	rec := make([]string, len(row))
	for i, v := range row {
		rec[i] = String(v)
	}
	if err := c.w.Write(rec); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

func (c *csvWriter) Close(*Errors) error {
	c.w.Flush()
	return c.w.Error()
}

// jsonWriter streams {"header":[...],"rows":[...],"errors":{...}}.
type jsonWriter struct {
	w    io.Writer
	rows int
}

func (j *jsonWriter) ContentType() string { return "application/json" }

func (j *jsonWriter) WriteHeader(cols []string) error {
	raw, err := json.Marshal(cols)
	if err != nil {
		return err
	}
	_, err = io.WriteString(j.w, `{"header":`+string(raw)+`,"rows":[`)
	return err
}

func (j *jsonWriter) WriteRow(row Row) error {
	raw, err := json.Marshal(row)
	if err != nil {
		return err
	}
	if j.rows > 0 {
		if _, err := io.WriteString(j.w, ","); err != nil {
			return err
		}
	}
	j.rows++
	_, err = j.w.Write(raw)
	return err
}

func (j *jsonWriter) Close(errs *Errors) error {
	if errs == nil {
		errs = newErrors()
	}
	raw, err := json.Marshal(errs)
	if err != nil {
		return err
	}
	_, err = io.WriteString(j.w, `],"errors":`+string(raw)+"}\n")
	return err
}

// jsonlWriter writes the header, one array per row, then an errors object.
type jsonlWriter struct {
	enc *json.Encoder
}

func (j *jsonlWriter) ContentType() string { return "application/x-ndjson" }

func (j *jsonlWriter) WriteHeader(cols []string) error {
	return j.enc.Encode(map[string][]string{"header": cols})
}

func (j *jsonlWriter) WriteRow(row Row) error {
	return j.enc.Encode(row)
}

func (j *jsonlWriter) Close(errs *Errors) error {
	if errs == nil {
		errs = newErrors()
	}
	return j.enc.Encode(map[string]*Errors{"errors": errs})
}
