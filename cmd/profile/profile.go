package main

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb"
	"github.com/vbauerster/mpb/decor"
	"github.com/willbeason/bondsmith"
	"github.com/willbeason/bondsmith/jsonio"
	"golang.org/x/term"

	"github.com/willbeason/insurance-eligibility/pkg/config"
	"github.com/willbeason/insurance-eligibility/pkg/docstore"
	"github.com/willbeason/insurance-eligibility/pkg/profile"
)

const IncEvery = 1 << 10

const (
	FlagConfig = "config"
	FlagOut    = "out"
)

func init() {
	cmd.Flags().String(FlagConfig, "", "pipeline configuration file (default: built-in defaults)")
	cmd.Flags().String(FlagOut, "", "output file path (default: stdout)")
}

func main() {
	err := cmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var cmd = cobra.Command{
	Use:     "profile [FILE|DIR]",
	Short:   "Collect type and value statistics of customer record fields",
	Long:    "Profiles the .jsonl(.gz) dump at FILE or DIR, or the configured collection when no path is given.",
	Args:    cobra.MaximumNArgs(1),
	Version: "0.1.0",
	RunE:    runE,
}

var ErrProfile = errors.New("profiling documents")

func runE(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	configPath, err := cmd.Flags().GetString(FlagConfig)
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProfile, err)
	}

	p := profile.New(cfg.Ingestion.MissingTokens...)
	if len(args) == 1 {
		err = profileFiles(args[0], p)
	} else {
		err = profileCollection(ctx, cfg.DocumentStore, p)
	}
	if err != nil {
		return err
	}

	outPath, err := cmd.Flags().GetString(FlagOut)
	if err != nil {
		return err
	}

	outFile := os.Stdout
	if outPath != "" {
		outFile, err = os.Create(outPath)
		if err != nil {
			return fmt.Errorf("%w: creating %q: %w", ErrProfile, outPath, err)
		}
		defer func() {
			err := outFile.Close()
			if err != nil {
				fmt.Println(err)
			}
		}()
	}

	_, err = fmt.Fprintf(outFile, "# %d documents\n", p.Documents)
	if err != nil {
		return err
	}
	return p.Write(outFile)
}

func profileCollection(ctx context.Context, cfg config.DocumentStore, p *profile.Profile) error {
	store, err := docstore.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProfile, err)
	}
	defer func() {
		err := store.Close(context.Background())
		if err != nil {
			fmt.Println(err)
		}
	}()

	docs, err := store.FetchAll(ctx, cfg.Collection)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrProfile, err)
	}
	for i, doc := range docs {
		err = p.Add(doc)
		if err != nil {
			return fmt.Errorf("%w: document %d: %w", ErrProfile, i, err)
		}
	}
	return nil
}

func profileFiles(inPath string, p *profile.Profile) error {
	paths, err := docstore.ListFiles(inPath, "")
	if err != nil {
		return fmt.Errorf("%w: stat %q: %w", ErrProfile, inPath, err)
	}
	if len(paths) == 0 {
		return fmt.Errorf("%w: %q has no .jsonl or .jsonl.gz files", ErrProfile, inPath)
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		width = 80
	}
	progress := mpb.New(mpb.WithWidth(width))

	for _, path := range paths {
		err = profileFile(progress, path, p)
		if err != nil {
			return err
		}
	}
	return nil
}

func profileFile(progress *mpb.Progress, inPath string, p *profile.Profile) error {
	file, err := os.Open(inPath)
	if err != nil {
		return fmt.Errorf("%w: opening %q: %w", ErrProfile, inPath, err)
	}
	defer func() {
		_ = file.Close()
	}()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: getting stat for %q: %w", ErrProfile, inPath, err)
	}

	countReader := bondsmith.NewCountReader(file)
	var reader io.Reader = countReader
	if strings.HasSuffix(inPath, ".gz") {
		reader, err = gzip.NewReader(countReader)
		if err != nil {
			return fmt.Errorf("%w: starting gzip reader stream for %q: %w", ErrProfile, inPath, err)
		}
	}

	entries := jsonio.NewReader(reader, func() *map[string]any {
		v := make(map[string]any)
		return &v
	})

	bar := progress.AddBar(stat.Size(),
		mpb.AppendDecorators(decor.AverageETA(decor.ET_STYLE_GO)),
		mpb.PrependDecorators(decor.Name(filepath.Base(inPath))),
		mpb.BarRemoveOnComplete(),
	)

	i := 0
	lastSeen := 0
	start := time.Now()
	for entry, err := range entries.Read() {
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("%w: decoding %q: %w", ErrProfile, inPath, err)
		}

		err = p.Add(*entry)
		if err != nil {
			return fmt.Errorf("%w: %q line %d: %w", ErrProfile, inPath, i+1, err)
		}

		i++
		if i%IncEvery == 0 {
			curProgress := int(countReader.Count())
			bar.IncrBy(curProgress-lastSeen, time.Since(start))
			lastSeen = curProgress
		}
	}
	bar.IncrBy(int(countReader.Count())-lastSeen, time.Since(start))

	return nil
}
