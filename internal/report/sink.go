// Package report persists resolution results as an append-only CSV log.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sync"
)

// ErrorMarker is written in place of a resolved address for queries that were not resolved.
const ErrorMarker = "ERR"

// Columns is the header row of every report.
var Columns = []string{"CustomHeader", "Domain", "ResolvedIP"}

// Record is a single report row.
type Record struct {
	Header     string
	Domain     string
	ResolvedIP string
}

// Sink is an append-only destination for report records.
type Sink interface {
	// Append writes a single record.
	Append(record Record) error
}

// CSVSink writes records as CSV rows. Appends are serialized, so a single sink may be shared by
// concurrent writers without interleaving rows.
type CSVSink struct {
	writer *csv.Writer
	closer io.Closer
	mutex  sync.Mutex
}

// NewCSVSink creates a sink over a writer and immediately writes the header row.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	sink := &CSVSink{writer: csv.NewWriter(w)}
	if closer, ok := w.(io.Closer); ok {
		sink.closer = closer
	}

	if err := sink.write(Columns); err != nil {
		return nil, err
	}

	return sink, nil
}

// CreateCSVSink creates (or truncates) the file at path and returns a sink over it.
func CreateCSVSink(path string) (*CSVSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("report: error creating report file: path=%s err=%w", path, err)
	}

	sink, err := NewCSVSink(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	return sink, nil
}

// Append writes one record and flushes it to the underlying writer.
func (s *CSVSink) Append(record Record) error {
	return s.write([]string{record.Header, record.Domain, record.ResolvedIP})
}

// AppendAll writes records in order.
func (s *CSVSink) AppendAll(records []Record) error {
	for _, record := range records {
		if err := s.Append(record); err != nil {
			return err
		}
	}

	return nil
}

// Close releases the underlying writer, if it is closeable. Subsequent calls are no-ops.
func (s *CSVSink) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closer == nil {
		return nil
	}

	closer := s.closer
	s.closer = nil

	return closer.Close()
}

func (s *CSVSink) write(row []string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.writer.Write(row); err != nil {
		return fmt.Errorf("report: error writing row: err=%w", err)
	}

	s.writer.Flush()
	if err := s.writer.Error(); err != nil {
		return fmt.Errorf("report: error flushing row: err=%w", err)
	}

	return nil
}
