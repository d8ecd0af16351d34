package main

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/snapmatch/internal/ingest"
	"github.com/your-org/snapmatch/internal/queue"
	"github.com/your-org/snapmatch/internal/upload"
	"github.com/your-org/snapmatch/internal/vision"
)

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Upload every image in a directory into a folder",
	Long: `Walk a directory, upload each supported image to object storage and
register it with the folder. Faces are extracted as part of registration.

Photos are registered in batches; a batch that fails is reported and the
import continues with the next one.

Examples:
  # Import an event shoot
  snapmatch-ingestor import ./shoot --folder 6f1c...

  # Smaller batches, more parallel uploads
  snapmatch-ingestor import ./shoot --folder 6f1c... --batch 10 --concurrency 8`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("folder", "", "Target folder id (required)")
	importCmd.Flags().Int("batch", 20, "Photos registered per batch")
	importCmd.Flags().Int("concurrency", 4, "Parallel uploads")
	_ = importCmd.MarkFlagRequired("folder")
}

func runImport(cmd *cobra.Command, args []string) error {
	folderFlag, _ := cmd.Flags().GetString("folder")
	batchSize, _ := cmd.Flags().GetInt("batch")
	concurrency, _ := cmd.Flags().GetInt("concurrency")

	folderID, err := uuid.Parse(folderFlag)
	if err != nil {
		return fmt.Errorf("invalid folder id %q: %w", folderFlag, err)
	}
	if batchSize <= 0 {
		return fmt.Errorf("--batch must be positive")
	}

	ctx := cmd.Context()
	d, err := connect(ctx)
	if err != nil {
		return err
	}
	defer d.Close()

	folder, err := d.store.GetFolder(ctx, folderID)
	if err != nil {
		return err
	}

	files, err := findImages(args[0], d.cfg.Upload.AllowedTypes)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Println("No supported images found.")
		return nil
	}

	extractor, closeExtractor, err := vision.OpenExtractor(d.cfg.Extraction)
	if err != nil {
		return fmt.Errorf("open extractor: %w", err)
	}
	defer closeExtractor()

	pipeline := ingest.NewPipeline(d.minio, extractor, d.store, d.cfg.Extraction.Dimension, d.cfg.Ingest.Concurrency)
	coord := upload.NewCoordinator(d.minio, d.store, pipeline, queue.Nop{}, d.cfg.Upload)

	fmt.Printf("Importing %d photos into %q (%d already registered)\n\n", len(files), folder.Name, folder.PhotoCount())

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Importing"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var imported, failed int
	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))
		batch := files[start:end]

		keys, err := uploadBatch(ctx, coord, d.minio, batch, concurrency)
		if err == nil {
			_, err = coord.RegisterPhotoLinks(ctx, folderID, keys)
		}
		if err != nil {
			failed += len(batch)
			_ = bar.Clear()
			fmt.Fprintf(os.Stderr, "batch %d-%d failed: %v\n", start+1, end, err)
		} else {
			imported += len(batch)
		}
		_ = bar.Add(len(batch))

		if ctx.Err() != nil {
			break
		}
	}

	fmt.Printf("\n\nImported: %d, failed: %d\n", imported, failed)
	if failed > 0 {
		return fmt.Errorf("%d photos were not imported", failed)
	}
	return nil
}

type imageFile struct {
	path        string
	contentType string
}

type objectPutter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

type keyIssuer interface {
	NewKey(ctx context.Context, fileName string) (string, error)
}

// uploadBatch stores each file under a fresh key and returns the keys in
// file order.
func uploadBatch(ctx context.Context, keys keyIssuer, objects objectPutter, files []imageFile, concurrency int) ([]string, error) {
	out := make([]string, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, f := range files {
		g.Go(func() error {
			data, err := os.ReadFile(f.path)
			if err != nil {
				return err
			}
			key, err := keys.NewKey(gctx, filepath.Base(f.path))
			if err != nil {
				return err
			}
			if err := objects.PutObject(gctx, key, data, f.contentType); err != nil {
				return fmt.Errorf("upload %s: %w", f.path, err)
			}
			out[i] = key
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// findImages lists files under root whose extension maps to an allowed
// content type, sorted by path.
func findImages(root string, allowed []string) ([]imageFile, error) {
	ok := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		ok[strings.ToLower(t)] = true
	}

	var files []imageFile
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		ct := contentType(path)
		if ok[ct] {
			files = append(files, imageFile{path: path, contentType: ct})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	ct, _, _ := mime.ParseMediaType(mime.TypeByExtension(ext))
	return ct
}
