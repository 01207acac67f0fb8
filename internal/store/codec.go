package store

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/govnewsbr/pipeline/internal/news"
)

// The snapshot wire format is JSON lines: one record per line. It is
// appendable, diffs cleanly, and survives partial reads better than a single
// JSON array.

// EncodeSnapshot serializes records into the snapshot wire format.
func EncodeSnapshot(records []news.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot parses the snapshot wire format back into records.
func DecodeSnapshot(data []byte) ([]news.Record, error) {
	var records []news.Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec news.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode snapshot line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	return records, nil
}

var csvHeader = []string{
	"unique_id", "agency", "published_at", "title", "url",
	"image_url", "category", "tags", "content", "extracted_at",
}

// WriteCSV renders records as the downloadable CSV export.
func WriteCSV(w io.Writer, records []news.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, rec := range records {
		fp, err := news.NewFingerprint(rec)
		if err != nil {
			return fmt.Errorf("csv record %d: %w", i, err)
		}
		row := []string{
			string(fp),
			rec.Agency,
			rec.PublishedAt.Format(time.RFC3339),
			rec.Title,
			rec.URL,
			rec.ImageURL,
			rec.Category,
			strings.Join(rec.Tags, "|"),
			rec.Content,
			rec.ExtractedAt.Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv record %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// GroupByAgency splits records for the per-agency CSV exports.
func GroupByAgency(records []news.Record) map[string][]news.Record {
	groups := make(map[string][]news.Record)
	for _, rec := range records {
		groups[rec.Agency] = append(groups[rec.Agency], rec)
	}
	return groups
}

// GroupByYear splits records by publication year for the per-year exports.
func GroupByYear(records []news.Record) map[string][]news.Record {
	groups := make(map[string][]news.Record)
	for _, rec := range records {
		if rec.PublishedAt == nil {
			continue
		}
		year := strconv.Itoa(rec.PublishedAt.Year())
		groups[year] = append(groups[year], rec)
	}
	return groups
}
