package cli

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/happyhackingspace/hzr/internal/storage"
	"github.com/spf13/cobra"
)

func (c *CLI) newDataCommand() *cobra.Command {
	dataCmd := &cobra.Command{
		Use:   "data",
		Short: "Manage labeled sample archives",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	var downloadURL, downloadDataFolder string
	downloadCmd := &cobra.Command{
		Use:   "download",
		Short: "Download and extract a sample archive (.tar.gz)",
		Example: `  hzr data download --url https://example.org/samples.tar.gz
  hzr data download --url https://example.org/samples.tar.gz --data-folder data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataDownload(downloadURL, downloadDataFolder)
		},
	}
	downloadCmd.Flags().StringVar(&downloadURL, "url", "", "Archive URL")
	downloadCmd.Flags().StringVar(&downloadDataFolder, "data-folder", "data", "Destination folder for samples")
	_ = downloadCmd.MarkFlagRequired("url")

	var packDataFolder, packOutput string
	packCmd := &cobra.Command{
		Use:     "pack",
		Short:   "Archive a sample folder as .tar.gz",
		Example: `  hzr data pack --data-folder data --output samples.tar.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dataPack(packDataFolder, packOutput)
		},
	}
	packCmd.Flags().StringVar(&packDataFolder, "data-folder", "data", "Source folder for samples")
	packCmd.Flags().StringVar(&packOutput, "output", "data.tar.gz", "Archive path")

	dataCmd.AddCommand(downloadCmd, packCmd)
	return dataCmd
}

func dataDownload(url, dataFolder string) error {
	slog.Info("Downloading samples", "url", url)
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("download data: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download data: HTTP %d", resp.StatusCode)
	}

	if err := os.RemoveAll(dataFolder); err != nil {
		return fmt.Errorf("remove existing %s: %w", dataFolder, err)
	}
	count, err := extractArchive(resp.Body, dataFolder)
	if err != nil {
		return err
	}
	slog.Info("Samples extracted", "files", count, "folder", dataFolder)

	if _, err := storage.NewStorage(dataFolder).GetIndex(); err != nil {
		slog.Warn("Archive has no readable index", "file", storage.IndexFile, "error", err)
	}
	return nil
}

// extractArchive unpacks a gzipped tar into dataFolder. Entries under a
// leading "data/" directory are placed directly in dataFolder.
func extractArchive(r io.Reader, dataFolder string) (int, error) {
	gr, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("gzip reader: %w", err)
	}
	defer func() { _ = gr.Close() }()

	root := filepath.Clean(dataFolder)
	tr := tar.NewReader(gr)
	count := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("read tar: %w", err)
		}

		name := strings.TrimPrefix(filepath.ToSlash(hdr.Name), "data/")
		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return count, fmt.Errorf("archive entry %q escapes %s", hdr.Name, dataFolder)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return count, fmt.Errorf("create dir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return count, fmt.Errorf("create parent dir: %w", err)
			}
			f, err := os.Create(target)
			if err != nil {
				return count, fmt.Errorf("create file %s: %w", target, err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return count, fmt.Errorf("write file %s: %w", target, err)
			}
			_ = f.Close()
			count++
		}
	}
	return count, nil
}

func dataPack(dataFolder, tarPath string) error {
	slog.Info("Creating archive", "source", dataFolder, "dest", tarPath)

	tf, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", tarPath, err)
	}
	if err := writeArchive(tf, dataFolder); err != nil {
		_ = tf.Close()
		return err
	}
	if err := tf.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tarPath, err)
	}
	slog.Info("Archive created", "path", tarPath)
	return nil
}

// writeArchive writes dataFolder as a gzipped tar with entries under
// "data/".
func writeArchive(w io.Writer, dataFolder string) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	err := filepath.Walk(dataFolder, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dataFolder, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = "data/"
		if rel != "." {
			hdr.Name += filepath.ToSlash(rel)
			if info.IsDir() {
				hdr.Name += "/"
			}
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		_ = tw.Close()
		_ = gw.Close()
		return fmt.Errorf("create archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		_ = gw.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}
