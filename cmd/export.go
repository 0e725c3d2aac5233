// File: cmd/export.go
package cmd

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/config"
	"github.com/xkilldash9x/feedwalker/internal/observability"
)

var extensionsByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
}

// newExportCmd creates and configures the `export` command.
func newExportCmd(provider storageProvider) *cobra.Command {
	var outDir string

	exportCmd := &cobra.Command{
		Use:   "export <target>",
		Short: "Writes the stored media of a target to a directory",
		Long: `Copies every blob stored for the target out of the configured storage backend.
Files are named <target>_<md5 of content><extension>, so exporting twice
into the same directory does not duplicate anything.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runExport(ctx, logger, cfg, args[0], outDir, provider, cmd.OutOrStdout())
		},
	}

	exportCmd.Flags().StringVar(&outDir, "out", "", "Directory to write the files to (required)")
	_ = exportCmd.MarkFlagRequired("out")

	return exportCmd
}

// runExport contains the core, testable logic of the export command.
func runExport(
	ctx context.Context,
	logger *zap.Logger,
	cfg config.Interface,
	target, outDir string,
	provider storageProvider,
	out io.Writer,
) error {
	storage, cleanup, err := provider.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer cleanup()

	blobs, err := storage.ListBlobs(ctx, target)
	if err != nil {
		return fmt.Errorf("failed to list blobs for %s: %w", target, err)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	t := newTable(out)
	t.AppendHeader(table.Row{"Item", "File", "Bytes", "Result"})
	written, skipped := 0, 0
	for _, b := range blobs {
		data, err := storage.ReadBlob(ctx, b.Handle)
		if err != nil {
			return fmt.Errorf("failed to read blob %s: %w", b.Handle, err)
		}
		name := exportName(target, data, b.Metadata)
		path := filepath.Join(outDir, name)

		if _, err := os.Stat(path); err == nil {
			skipped++
			t.AppendRow(table.Row{b.Metadata.ItemID, name, len(data), "exists"})
			continue
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		written++
		t.AppendRow(table.Row{b.Metadata.ItemID, name, len(data), "written"})
	}
	t.AppendFooter(table.Row{"", "", "Written", written})
	t.Render()

	logger.Info("Export finished.",
		zap.String("target", target),
		zap.String("dir", outDir),
		zap.Int("written", written),
		zap.Int("skipped", skipped),
	)
	return nil
}

// exportName is <target>_<md5(data)><ext>.
func exportName(target string, data []byte, meta schemas.BlobMetadata) string {
	sum := md5.Sum(data)
	return fmt.Sprintf("%s_%s%s", target, hex.EncodeToString(sum[:]), extensionFor(meta))
}

func extensionFor(meta schemas.BlobMetadata) string {
	if ext := filepath.Ext(meta.Filename); ext != "" {
		return strings.ToLower(ext)
	}
	contentType, _, _ := strings.Cut(meta.ContentType, ";")
	if ext, ok := extensionsByType[strings.TrimSpace(contentType)]; ok {
		return ext
	}
	return ".bin"
}
