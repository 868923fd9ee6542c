package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/ebcs/coach/config"
	"github.com/ebcs/coach/internal/corpus"
	"github.com/ebcs/coach/internal/helpers"
	"github.com/ebcs/coach/internal/llm"
	"github.com/ebcs/coach/internal/store"
)

const embedBatchSize = 64

func ingestCMD() *cobra.Command {
	var cfgPath string
	var seedFile string
	var ingest = &cobra.Command{
		Use:   "ingest",
		Short: "Load a JSONL corpus dump into Postgres, embedding records that lack vectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if seedFile == "" {
				seedFile = cfg.Retrieval.SeedFile
			}
			if seedFile == "" {
				return fmt.Errorf("seed file required (--file or retrieval.seed_file)")
			}
			return runIngest(cmd.Context(), cfg, seedFile)
		},
	}
	ingest.Flags().StringVar(&seedFile, "file", "", "JSONL corpus dump")
	ingest.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ingest
}

func runIngest(ctx context.Context, cfg *config.Config, seedFile string) error {
	logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)

	records, err := corpus.ReadSeedFile(seedFile)
	if err != nil {
		return err
	}
	logger.Printf("read %d records from %s", len(records), seedFile)

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return err
	}
	defer st.Close()

	client := llm.NewOpenAIClient(cfg.LLM)
	if err := embedMissing(ctx, client, records); err != nil {
		return err
	}

	byCollection := map[string][]store.Item{}
	for _, rec := range records {
		payload := rec.Payload
		if payload == nil {
			payload = map[string]string{}
		}
		for _, field := range []string{"raw_excerpt_md", "source_chunk_md"} {
			if payload[field] != "" {
				payload[field] = helpers.RepairExcerptMarkdown(payload[field], payload["source_path"], cfg.Retrieval.ImageBaseURL)
			}
		}
		byCollection[rec.Collection] = append(byCollection[rec.Collection], store.Item{
			ID:      rec.ID,
			Payload: payload,
			Vector:  rec.Embedding,
		})
	}
	for collection, items := range byCollection {
		if err := st.UpsertItems(ctx, collection, items); err != nil {
			return fmt.Errorf("upsert %s: %w", collection, err)
		}
		logger.Printf("upserted %d items into %s", len(items), collection)
	}
	return nil
}

// embedMissing fills in vectors for records the dump shipped without,
// batching to keep request sizes bounded.
func embedMissing(ctx context.Context, embedder llm.Provider, records []corpus.SeedRecord) error {
	var pending []int
	for i, rec := range records {
		if len(rec.Embedding) == 0 {
			pending = append(pending, i)
		}
	}
	for start := 0; start < len(pending); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = records[idx].Text
			if texts[j] == "" {
				texts[j] = records[idx].Payload["description"]
			}
		}
		vecs, err := embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		for j, idx := range batch {
			records[idx].Embedding = vecs[j]
		}
	}
	return nil
}
