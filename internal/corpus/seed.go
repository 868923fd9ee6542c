package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// SeedRecord is one line of a JSONL corpus dump, shared by the ingest
// command and the in-memory serving path.
type SeedRecord struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Payload    map[string]string `json:"payload"`
	Embedding  []float32         `json:"embedding,omitempty"`
}

// ReadSeedFile parses a JSONL dump. Blank lines are skipped; any
// malformed line aborts with its line number.
func ReadSeedFile(path string) ([]SeedRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSeed(f)
}

func ReadSeed(r io.Reader) ([]SeedRecord, error) {
	var records []SeedRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var rec SeedRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("seed line %d: %w", line, err)
		}
		if rec.Collection == "" || rec.ID == "" {
			return nil, fmt.Errorf("seed line %d: collection and id are required", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// LoadSeedFile reads a JSONL dump into the index.
func (ix *Index) LoadSeedFile(path string) (int, error) {
	records, err := ReadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		doc := Doc{ID: rec.ID, Text: rec.Text, Payload: rec.Payload, Vector: rec.Embedding}
		if doc.Text == "" {
			doc.Text = rec.Payload["description"] + " " + rec.Payload["summary"]
		}
		if err := ix.Add(rec.Collection, doc); err != nil {
			return 0, fmt.Errorf("index %s/%s: %w", rec.Collection, rec.ID, err)
		}
	}
	return len(records), nil
}
