package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"
	"golang.org/x/term"

	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/synthetic"
)

const (
	FlagConfig       = "config"
	FlagCollection   = "collection"
	FlagSynthetic    = "synthetic"
	FlagPositiveRate = "positive-rate"
	FlagSeed         = "seed"
)

func init() {
	cmd.Flags().String(FlagConfig, "", "pipeline configuration file (default: built-in defaults)")
	cmd.Flags().String(FlagCollection, "", "target collection (default: the configured collection)")
	cmd.Flags().Int(FlagSynthetic, 0, "insert this many generated records instead of reading IN_PATH")
	cmd.Flags().Float64(FlagPositiveRate, 0.12, "share of generated records with Response 1")
	cmd.Flags().Int64(FlagSeed, 0, "random seed for generated records")
}

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:     "import-documents [IN_PATH]",
	Short:   "loads .jsonl(.gz) customer records into the document store",
	Args:    cobra.MaximumNArgs(1),
	Version: "0.1.0",
	RunE:    runE,
}

var ErrImport = errors.New("importing documents")

func runE(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configPath, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImport, err)
	}
	collection, err := cmd.Flags().GetString(FlagCollection)
	if err != nil {
		return err
	}
	if collection == "" {
		collection = cfg.DocumentStore.Collection
	}
	generate, err := cmd.Flags().GetInt(FlagSynthetic)
	if err != nil {
		return err
	}
	if (generate > 0) == (len(args) == 1) {
		return fmt.Errorf("%w: give either IN_PATH or --%s", ErrImport, FlagSynthetic)
	}

	store, err := docstore.Open(ctx, cfg.DocumentStore)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrImport, err)
	}
	defer func() {
		err := store.Close(context.Background())
		if err != nil {
			fmt.Println(err)
		}
	}()

	if generate > 0 {
		rate, err := cmd.Flags().GetFloat64(FlagPositiveRate)
		if err != nil {
			return err
		}
		seed, err := cmd.Flags().GetInt64(FlagSeed)
		if err != nil {
			return err
		}
		inserted, err := store.InsertAll(ctx, collection, synthetic.Records(generate, rate, seed))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrImport, err)
		}
		fmt.Printf("inserted %d generated records into %s\n", inserted, collection)
		return nil
	}

	inserted, err := importFiles(ctx, store, collection, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d records into %s\n", inserted, collection)
	return nil
}

func importFiles(ctx context.Context, store docstore.Conn, collection, inPath string) (int, error) {
	paths, err := docstore.ListFiles(inPath, "")
	if err != nil {
		return 0, fmt.Errorf("%w: listing %q: %w", ErrImport, inPath, err)
	}
	if len(paths) == 0 {
		return 0, fmt.Errorf("%w: no .jsonl or .jsonl.gz files in %q", ErrImport, inPath)
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width = 80
	}
	p := mpb.New(mpb.WithWidth(width))
	bar := p.AddBar(int64(len(paths)),
		mpb.AppendDecorators(decor.AverageETA(decor.ET_STYLE_GO)),
		mpb.PrependDecorators(decor.Name(filepath.Base(inPath))),
		mpb.PrependDecorators(decor.CountersNoUnit("%d/%d", decor.WCSyncSpace)),
		mpb.BarRemoveOnComplete())

	total := 0
	start := time.Now()
	for _, path := range paths {
		reader, err := docstore.OpenFiles([]string{path})
		if err != nil {
			return total, fmt.Errorf("%w: opening %q: %w", ErrImport, path, err)
		}
		docs, err := docstore.ReadDocuments(ctx, reader)
		if err != nil {
			return total, fmt.Errorf("%w: reading %q: %w", ErrImport, path, err)
		}
		inserted, err := store.InsertAll(ctx, collection, docs)
		total += inserted
		if err != nil {
			return total, fmt.Errorf("%w: inserting %q: %w", ErrImport, path, err)
		}
		bar.IncrBy(1, time.Since(start))
	}
	p.Wait()

	return total, nil
}
