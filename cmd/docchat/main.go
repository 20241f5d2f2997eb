// Package main provides the docchat CLI for ingesting documents and running
// the MCP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docchat/docchat/internal/chunker"
	"github.com/docchat/docchat/internal/config"
	"github.com/docchat/docchat/internal/embedding"
	"github.com/docchat/docchat/internal/index"
	"github.com/docchat/docchat/internal/ingest"
	mcpserver "github.com/docchat/docchat/internal/mcp"
	"github.com/docchat/docchat/internal/retrieval"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Document chat index management tool",
	Long:  "CLI tool for managing the document chat vector index",
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <files...>",
	Short: "Chunk, embed, and index local text files",
	Long: `Reads local .txt/.md files and indexes them for retrieval.

Environment variables:
  OPENAI_API_KEY  OpenAI API key for embeddings (required)
  DOCCHAT_CONFIG  Config file path (default: config.yaml)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var clearExisting bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the document index",
	RunE:  runReset,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long:  "Exposes search_docs and get_index_status tools to MCP clients over stdin/stdout.",
	RunE:  runMCP,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (overrides DOCCHAT_CONFIG)")
	ingestCmd.Flags().BoolVar(&clearExisting, "clear", false, "clear the index before ingesting")
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// components holds everything the subcommands share.
type components struct {
	cfg      *config.Config
	idx      index.Index
	pipeline *ingest.Pipeline
	engine   *retrieval.Engine
	close    func()
}

func buildComponents(needsEmbedder bool) (*components, error) {
	path := configPath
	if path == "" {
		path = getEnv("DOCCHAT_CONFIG", "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	c := &components{cfg: cfg, close: func() {}}

	switch cfg.Index.Type {
	case "qdrant":
		q, err := index.NewQdrant(cfg.Index.Qdrant.Host, cfg.Index.Qdrant.Port, cfg.Index.Qdrant.Collection, embedding.Dimension)
		if err != nil {
			return nil, fmt.Errorf("connect to Qdrant: %w", err)
		}
		if err := q.EnsureCollection(context.Background()); err != nil {
			q.Close()
			return nil, fmt.Errorf("ensure collection: %w", err)
		}
		c.idx = q
		c.close = func() { q.Close() }
	default:
		c.idx = index.NewMemory()
	}

	var embedder embedding.Embedder
	if needsEmbedder {
		client, err := embedding.NewClient(cfg.OpenAI.BaseURL, cfg.APIKey())
		if err != nil {
			c.close()
			return nil, fmt.Errorf("create OpenAI client: %w", err)
		}
		embedder = embedding.NewOpenAI(client, 0)
	}

	text, err := chunker.NewSplitter(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}

	c.pipeline = ingest.NewPipeline(text, chunker.NewMarkdownSplitter(text), embedder, c.idx, slog.Default())
	if needsEmbedder {
		c.engine = retrieval.NewEngine(embedder, c.idx, cfg.Retrieval.TopK, cfg.Retrieval.MinScore, slog.Default())
	}
	return c, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	start := time.Now()

	c, err := buildComponents(true)
	if err != nil {
		return err
	}
	defer c.close()
	warnIfEphemeral(c.cfg)

	docs := make([]ingest.InputDoc, 0, len(args))
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, ingest.InputDoc{Filename: filepath.Base(path), Text: string(data)})
	}

	fmt.Printf("Ingesting %d files...\n", len(docs))
	result, err := c.pipeline.Ingest(ctx, docs, clearExisting)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	fmt.Println()
	fmt.Println("Ingest complete!")
	fmt.Printf("  Documents: %d/%d\n", len(result.Docs), len(docs))
	fmt.Printf("  Chunks: %d\n", result.TotalChunks)
	fmt.Printf("  Duration: %s\n", time.Since(start).Round(time.Millisecond))

	if len(result.Failed) > 0 {
		fmt.Println()
		fmt.Println("Failed files:")
		for _, failed := range result.Failed {
			fmt.Printf("  - %s: %s\n", failed.Filename, failed.Reason)
		}
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(false)
	if err != nil {
		return err
	}
	defer c.close()
	warnIfEphemeral(c.cfg)

	if err := c.pipeline.Reset(context.Background()); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Println("Index cleared")
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	c, err := buildComponents(true)
	if err != nil {
		return err
	}
	defer c.close()

	server := mcpserver.NewServer(&mcpserver.Config{
		Engine:   c.engine,
		Pipeline: c.pipeline,
		Index:    c.idx,
	})
	return server.Run(cmd.Context())
}

// warnIfEphemeral flags commands run against a process-local index: the
// memory backend vanishes when the command exits.
func warnIfEphemeral(cfg *config.Config) {
	if !cfg.IndexPersistent() {
		fmt.Fprintf(os.Stderr, "Warning: index backend %q is process-local; data does not survive this command. Set index.type: qdrant to persist.\n", cfg.Index.Type)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
