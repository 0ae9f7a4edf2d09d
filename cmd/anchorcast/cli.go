package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/anchorcast/anchorcast/internal/config"
	"github.com/anchorcast/anchorcast/internal/headless"
	"github.com/anchorcast/anchorcast/internal/manifest"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `usage: anchorcast <command> [flags]

commands:
  run       replay a JSON-lines tracking trace through the full stack
  discover  print a manifest skeleton for a directory of marker images
  validate  load a manifest and check its assets and media exist
  version   print the version
`

func runCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch strings.ToLower(args[0]) {
	case "run":
		err = runCmd(args[1:], stdout)
	case "discover":
		err = discoverCmd(args[1:], stdout)
	case "validate":
		err = validateCmd(args[1:], stdout)
	case "version":
		fmt.Fprintf(stdout, "%s %s (%s)\n", AppName, CurrentVersion, BuildDate)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func runCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configDir := fs.String("config-dir", ".", "directory containing "+config.ConfigFileName)
	trace := fs.String("trace", "", "JSON-lines trace to replay (required)")
	fs.String("manifest", "", "manifest file, overrides manifest.path")
	fs.String("journal", "", "journal backend: memory, sqlite, postgres, websocket or none")
	fs.Duration("interval", 0, "tick interval, overrides tick.interval")
	upload := fs.Bool("upload", false, "upload the exported journal to api.serverUrl")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trace == "" {
		return errors.New("--trace is required")
	}

	if err := config.Load(*configDir); err != nil {
		// defaults still apply
		fmt.Fprintf(stdout, "config: %v, using defaults\n", err)
	}
	bindFlag(fs, "manifest", "manifest.path")
	bindFlag(fs, "journal", "journal.type")
	bindFlag(fs, "interval", "tick.interval")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(*trace)
	if err != nil {
		return err
	}
	summary, err := a.run(ctx, *upload)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, summary)
	return nil
}

// bindFlag lets an explicitly set flag override the config key.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	if f := fs.Lookup(name); f != nil && f.Changed {
		_ = viper.BindPFlag(key, f)
	}
}

func discoverCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("discover", pflag.ContinueOnError)
	name := fs.String("name", "", "manifest name, defaults to the directory name")
	out := fs.StringP("output", "o", "", "write the skeleton to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one image directory")
	}
	dir := fs.Arg(0)

	images, err := manifest.Discover(dir)
	if err != nil {
		return err
	}
	if *name == "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		*name = filepath.Base(abs)
	}
	m := manifest.Skeleton(*name, images)

	if *out == "" {
		return m.WriteJSON(stdout)
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := m.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "wrote %d markers to %s\n", len(images), *out)
	return nil
}

func validateCmd(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("validate", pflag.ContinueOnError)
	assetsDir := fs.String("assets", "", "asset directory to resolve models against")
	mediaDir := fs.String("media", "", "media directory to resolve media files against")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one manifest file")
	}

	m, err := manifest.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "manifest %q: %d markers, video plane %q\n", m.Name, m.Len(), m.VideoPlane())

	var problems []error
	if *assetsDir != "" {
		store := headless.NewStore(*assetsDir, m.VideoPlane())
		for i, c := range m.Markers {
			if _, err := store.ResolveAsset(context.Background(), c.AssetKey); err != nil {
				problems = append(problems, fmt.Errorf("marker %d (%s): %w", i, c.Name, err))
			}
		}
	}
	if *mediaDir != "" {
		for i, c := range m.Markers {
			if !c.MediaKind.HasMedia() {
				continue
			}
			if _, err := os.Stat(filepath.Join(*mediaDir, filepath.Base(c.MediaKey))); err != nil {
				problems = append(problems, fmt.Errorf("marker %d (%s): media: %w", i, c.Name, err))
			}
		}
	}
	for _, p := range problems {
		fmt.Fprintln(stdout, "  "+p.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%d problems found", len(problems))
	}
	fmt.Fprintln(stdout, "ok")
	return nil
}
