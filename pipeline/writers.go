package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/aluiziolira/go-stay-rates/models"
)

var csvHeader = []string{
	"listing_id",
	"discovery_id",
	"min_nights",
	"max_nights",
	"available_days",
	"booked_days",
	"price_nightly",
	"price_cleaning",
	"discount_weekly",
	"discount_monthly",
	"quotes",
	"scraped_at",
}

// CSVWriter writes one row per listing.
type CSVWriter struct {
	file   *os.File
	writer *csv.Writer
	mu     sync.Mutex
}

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

// Write appends records to the CSV output. Condensed samples fill the price
// columns; full samples leave them empty and carry every quote as JSON.
func (cw *CSVWriter) Write(records []*models.ListingRates) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, r := range records {
		row, err := csvRow(r)
		if err != nil {
			return err
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func csvRow(r *models.ListingRates) ([]string, error) {
	var nightly, cleaning, weekly, monthly string
	if s := r.Pricing.Summary; s != nil {
		nightly = formatFloat(s.PriceNightly)
		cleaning = formatFloat(s.PriceCleaning)
		weekly = formatOptional(s.DiscountWeekly)
		monthly = formatOptional(s.DiscountMonthly)
	}

	quotes := ""
	if len(r.Pricing.Quotes) > 0 {
		encoded, err := json.Marshal(r.Pricing.Quotes)
		if err != nil {
			return nil, fmt.Errorf("encode quotes for %s: %w", r.ListingID, err)
		}
		quotes = string(encoded)
	}

	return []string{
		r.ListingID,
		r.DiscoveryID,
		formatNights(r.Constraints.MinNights),
		formatNights(r.Constraints.MaxNights),
		strconv.Itoa(r.AvailableDays),
		strconv.Itoa(r.BookedDays),
		nightly,
		cleaning,
		weekly,
		monthly,
		quotes,
		r.ScrapedAt.Format(time.RFC3339),
	}, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatOptional(f *float64) string {
	if f == nil {
		return ""
	}
	return formatFloat(*f)
}

func formatNights(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
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

// Validate ensures the file has content besides the header.
func (cw *CSVWriter) Validate() error {
	info, err := cw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat csv file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("csv file is empty")
	}
	return nil
}

// JSONWriter writes newline-delimited JSON records.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONWriter) Write(records []*models.ListingRates) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, r := range records {
		if err := jw.encoder.Encode(r); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := jw.file.Stat()
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
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
