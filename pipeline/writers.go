package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/bookharvest/models"
)

// JSONArrayWriter collects books and writes them as one indented JSON array
// when closed. The target file is replaced atomically.
type JSONArrayWriter struct {
	filename string
	books    []models.Book
	closed   bool
	mu       sync.Mutex
}

// NewJSONArrayWriter prepares a writer for filename. Nothing touches disk
// until Close.
func NewJSONArrayWriter(filename string) (*JSONArrayWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	return &JSONArrayWriter{
		filename: filename,
		books:    []models.Book{},
	}, nil
}

// Write buffers books for the final array.
func (jw *JSONArrayWriter) Write(books []models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrPipelineClosed
	}
	for _, book := range books {
		jw.books = append(jw.books, withProductInfo(book))
	}
	return nil
}

// Close encodes the buffered books into a temp file next to the target and
// renames it into place.
func (jw *JSONArrayWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return nil
	}
	jw.closed = true

	tmp, err := os.CreateTemp(filepath.Dir(jw.filename), ".books-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp json file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buffer := bufio.NewWriter(tmp)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(jw.books); err != nil {
		tmp.Close()
		return fmt.Errorf("encode json array: %w", err)
	}
	if err := buffer.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush json array: %w", err)
	}
	// CreateTemp opens with 0600; the published file is world readable.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp json file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp json file: %w", err)
	}
	if err := os.Rename(tmp.Name(), jw.filename); err != nil {
		return fmt.Errorf("move json file into place: %w", err)
	}
	return nil
}

// Abort drops the buffered books and leaves the target file untouched.
func (jw *JSONArrayWriter) Abort() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	jw.books = nil
	return nil
}

// Validate checks that the array was written.
func (jw *JSONArrayWriter) Validate() error {
	jw.mu.Lock()
	closed := jw.closed
	jw.mu.Unlock()
	if !closed {
		return fmt.Errorf("json array not written yet")
	}

	info, err := os.Stat(jw.filename)
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

// ReadJSONArray loads a file produced by JSONArrayWriter.
func ReadJSONArray(filename string) ([]models.Book, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read json file: %w", err)
	}
	books := []models.Book{}
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("decode json array: %w", err)
	}
	return books, nil
}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

var csvHeader = []string{"title", "price", "rating", "availability", "description", "product_info"}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends books to the CSV output. product_info is stored as a JSON
// object.
func (cw *CSVWriter) Write(books []models.Book) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, book := range books {
		info, err := json.Marshal(withProductInfo(book).ProductInfo)
		if err != nil {
			return fmt.Errorf("encode product info: %w", err)
		}
		record := []string{
			book.Title,
			book.Price,
			book.Rating,
			book.Availability,
			book.Description,
			string(info),
		}
		if err := cw.writer.Write(record); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes and closes the file handle.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Close()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	info, err := os.Stat(cw.file.Name())
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONLWriter writes newline-delimited JSON records.
type JSONLWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONLWriter initialises the JSONL writer.
func NewJSONLWriter(filename string) (*JSONLWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create jsonl file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	return &JSONLWriter{
		file:    f,
		writer:  buffer,
		encoder: encoder,
	}, nil
}

// Write appends one line per book.
func (jw *JSONLWriter) Write(books []models.Book) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, book := range books {
		if err := jw.encoder.Encode(withProductInfo(book)); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return jw.file.Close()
}

// Validate only checks that the file exists; an empty run yields an empty
// file.
func (jw *JSONLWriter) Validate() error {
	if _, err := os.Stat(jw.file.Name()); err != nil {
		return fmt.Errorf("stat jsonl file: %w", err)
	}
	return nil
}

// withProductInfo makes sure product_info serialises as an object.
func withProductInfo(book models.Book) models.Book {
	if book.ProductInfo == nil {
		book.ProductInfo = map[string]string{}
	}
	return book
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
