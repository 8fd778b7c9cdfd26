package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/testforge/internal/engine"
	"github.com/pavelanni/testforge/internal/handler"
	appI18n "github.com/pavelanni/testforge/internal/i18n"
	"github.com/pavelanni/testforge/internal/llm"
	"github.com/pavelanni/testforge/internal/model"
	"github.com/pavelanni/testforge/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "testforge",
		Short: "Assemble examinations from weighted coverage plans",
	}
	root.AddCommand(serveCmd(), assembleCmd(), importCmd())
	return root
}

func llmFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("embed-model", "", "Embedding model name (empty disables embeddings)")
}

func logFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP assembly server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "testforge.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
	f.Duration("batch-delay", 500*time.Millisecond, "Pause between generation batches")
	llmFlags(cmd)
	logFlags(cmd)
	return cmd
}

func assembleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble a test from a coverage plan file",
		RunE:  runAssemble,
	}
	f := cmd.Flags()
	f.String("db", "testforge.db", "SQLite database path")
	f.StringP("plan", "p", "", "Coverage plan file (YAML or JSON, required)")
	f.IntP("total-items", "n", 20, "Total items to assemble")
	f.Int("versions", 1, "Number of parallel forms (1-5)")
	f.Bool("shuffle-items", true, "Shuffle item order per form")
	f.Bool("shuffle-choices", true, "Shuffle multiple-choice options per form")
	f.Bool("allow-unapproved", false, "Allow unapproved bank items")
	f.Int64("seed", 0, "Random seed (0 = time-based)")
	f.Duration("batch-delay", 500*time.Millisecond, "Pause between generation batches")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	llmFlags(cmd)
	logFlags(cmd)
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import item bank files (JSON)",
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "testforge.db", "SQLite database path")
	f.StringSliceP("items", "i", nil, "Paths to item JSON files (repeatable)")
	f.Bool("approved", true, "Mark imported items as approved")
	logFlags(cmd)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TESTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("testforge")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/testforge")
	v.AddConfigPath("/etc/testforge")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func newEngine(ctx context.Context, v *viper.Viper, db *store.Store) (*engine.Engine, error) {
	client, err := llm.New(
		v.GetString("llm-url"),
		v.GetString("llm-key"),
		v.GetString("llm-model"),
		v.GetString("embed-model"),
	)
	if err != nil {
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	opts := []engine.Option{engine.WithBatchDelay(v.GetDuration("batch-delay"))}
	if err := client.Ping(ctx); err != nil {
		// Reported, not fatal: bank-only assembly still works.
		slog.Warn("LLM endpoint unreachable, generation disabled", "error", err)
	} else {
		opts = append(opts, engine.WithGenerator(client))
		if v.GetString("embed-model") != "" {
			opts = append(opts, engine.WithEmbedder(client))
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
	}
	return engine.New(db, opts...), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	eng, err := newEngine(cmd.Context(), v, db)
	if err != nil {
		return err
	}

	h := handler.New(db, eng)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting "+appI18n.T(cmd.Context(), "AppTitle"),
		"addr", addr,
		"model", v.GetString("llm-model"),
		"llm_url", v.GetString("llm-url"),
		"lang", lang,
	)
	return http.ListenAndServe(addr, r)
}

func runAssemble(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	plan, err := model.LoadPlan(v.GetString("plan"))
	if err != nil {
		return err
	}

	eng, err := newEngine(cmd.Context(), v, db)
	if err != nil {
		return err
	}

	result, err := eng.Assemble(cmd.Context(), plan, v.GetInt("total-items"), model.AssemblyOptions{
		VersionCount:    v.GetInt("versions"),
		ShuffleItems:    v.GetBool("shuffle-items"),
		ShuffleChoices:  v.GetBool("shuffle-choices"),
		AllowUnapproved: v.GetBool("allow-unapproved"),
		Seed:            v.GetInt64("seed"),
	})
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}

	for _, warning := range result.Report.Warnings {
		slog.Warn(warning)
	}
	slog.Info("assembly complete",
		"test_id", result.TestID,
		"filled", result.Report.FilledSlots,
		"total", result.Report.TotalSlots,
		"generated", result.Report.GeneratedCount,
		"forms", len(result.Forms),
	)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	return nil
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	return importItems(cmd.Context(), db, v.GetStringSlice("items"), v.GetBool("approved"))
}

func importItems(ctx context.Context, db *store.Store, paths []string, approved bool) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("item file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("item file changed since last import, skipping to avoid duplicates", "path", path)
			continue
		}

		var items []model.Item
		if err := json.Unmarshal(data, &items); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for i := range items {
			items[i].ID = 0
			items[i].Approved = approved
			if items[i].Quality == 0 {
				items[i].Quality = 0.5
			}
			if err := items[i].Validate(); err != nil {
				return fmt.Errorf("invalid item %d in %s: %w", i, path, err)
			}
		}

		if _, err := db.InsertMany(ctx, items); err != nil {
			return fmt.Errorf("insert items from %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported items", "path", path, "count", len(items))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
