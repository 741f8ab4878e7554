package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dunamismax/pagewize/internal/bootstrap"
	"github.com/dunamismax/pagewize/internal/config"
	"github.com/dunamismax/pagewize/internal/domain"
	"github.com/dunamismax/pagewize/internal/pipeline"
	"github.com/dunamismax/pagewize/internal/storage"
	"github.com/dunamismax/pagewize/internal/store"
	"github.com/spf13/cobra"
)

type deriveFlags struct {
	source     string
	width      string
	height     string
	format     string
	blur       string
	output     string
	blurPolicy string
	localRoot  string
	verbose    bool
}

func newDeriveCmd() *cobra.Command {
	var flags deriveFlags

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive one image and write it out",
		Long: `Derive validates the parameters exactly like GET /image, fetches the source
and writes the transformed image.

Examples:
  imagectl derive --src https://example.com/a.jpg -w 200 -o thumb.jpg
  imagectl derive --src file:///tmp/photo.png -f webp -b 20 > photo.webp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDerive(cmd, flags)
		},
	}

	cmd.Flags().StringVar(&flags.source, "src", "", "Source image URL or path (required)")
	cmd.Flags().StringVarP(&flags.width, "width", "w", "", "Target width in pixels")
	cmd.Flags().StringVarP(&flags.height, "height", "h", "", "Target height in pixels")
	cmd.Flags().StringVarP(&flags.format, "format", "f", "", "Output format (jpg, png, gif, bmp, tiff, webp, ico)")
	cmd.Flags().StringVarP(&flags.blur, "blur", "b", "", "Blur amount, 0..100 in steps of 10")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "-", "Output file, - for stdout")
	cmd.Flags().StringVar(&flags.blurPolicy, "blur-policy", "", "Blur validation policy: steps or legacy (default from IMAGE_BLUR_POLICY)")
	cmd.Flags().StringVar(&flags.localRoot, "local-root", "/", "Directory file:// sources must stay inside")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log pipeline progress to stderr")
	return cmd
}

// rawRequest maps only the flags that were given, so an unset flag stays
// absent instead of becoming an empty value.
func (f deriveFlags) rawRequest(cmd *cobra.Command) domain.RawRequest {
	set := func(name, value string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		return &value
	}
	return domain.RawRequest{
		Source: f.source,
		Width:  set("width", f.width),
		Height: set("height", f.height),
		Format: set("format", f.format),
		Blur:   set("blur", f.blur),
	}
}

func runDerive(cmd *cobra.Command, flags deriveFlags) error {
	cfg := config.Load()
	cfg.Image.LocalRoot = flags.localRoot
	policy := cfg.Image.BlurPolicy
	if flags.blurPolicy != "" {
		policy = flags.blurPolicy
	}
	if !domain.ValidBlurPolicy(policy) {
		return fmt.Errorf("unknown blur policy %q", policy)
	}

	logOut := io.Discard
	if flags.verbose {
		logOut = cmd.ErrOrStderr()
	}
	logger := log.New(logOut, "[imagectl] ", log.LstdFlags|log.Lmsgprefix)

	req, err := domain.Normalize(flags.rawRequest(cmd), policy)
	if err != nil {
		return fmt.Errorf("%s: %w", domain.KindOf(err), err)
	}

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}
	defer pipeline.Shutdown()

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		return err
	}

	deriver, err := pipeline.NewDeriver(pipeline.Config{
		Fetcher:   bootstrap.NewFetcher(cfg.Image, storageClient),
		Store:     store.NewMemoryArtifactStore(),
		MaxPixels: cfg.Image.MaxPixels,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	artifact, err := deriver.GetOrDerive(context.Background(), req)
	if err != nil {
		return fmt.Errorf("%s: %w", domain.KindOf(err), err)
	}
	logger.Printf("derived key=%s type=%s size=%dx%d bytes=%d", artifact.Key, artifact.ContentType, artifact.Width, artifact.Height, len(artifact.Data))

	if flags.output == "" || flags.output == "-" {
		_, err := cmd.OutOrStdout().Write(artifact.Data)
		return err
	}
	if err := os.WriteFile(flags.output, artifact.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s, %dx%d)\n", flags.output, artifact.ContentType, artifact.Width, artifact.Height)
	return nil
}
