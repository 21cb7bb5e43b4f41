package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JakeFAU/imagepipe/internal/config"
	"github.com/JakeFAU/imagepipe/internal/pipeline"
	"github.com/JakeFAU/imagepipe/internal/server"
)

const usage = `usage: imagepipe [flags] <command> [args]

commands:
  serve               run the dev server
  build [id...]       load image module ids and flush their assets
  markdown [file...]  rewrite <img> tags in compiled markdown documents

flags:
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "imagepipe: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	idsFile    string
	asJSON     bool
	command    string
	args       []string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := pflag.NewFlagSet("imagepipe", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	flags.StringVar(&opts.idsFile, "ids-file", "", "file with one module id per line for build (- for stdin)")
	flags.BoolVar(&opts.asJSON, "json", false, "print markdown results as JSON including the offset mapping")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return options{}, errors.New("missing command")
	}
	opts.command = flags.Arg(0)
	opts.args = flags.Args()[1:]
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	switch opts.command {
	case "serve":
		cfg.Mode = string(pipeline.ModeDev)
		return withApp(ctx, cfg, func(app *server.App) error {
			return app.Serve(ctx)
		})
	case "build":
		ids, err := collectIDs(opts, stdin)
		if err != nil {
			return err
		}
		cfg.Mode = string(pipeline.ModeBuild)
		return withApp(ctx, cfg, func(app *server.App) error {
			return build(ctx, app, ids, stdout)
		})
	case "markdown":
		if len(opts.args) == 0 {
			return errors.New("markdown needs at least one file")
		}
		return withApp(ctx, cfg, func(app *server.App) error {
			return rewriteMarkdown(app, opts.args, opts.asJSON, stdout)
		})
	default:
		return fmt.Errorf("unknown command %q", opts.command)
	}
}

func withApp(ctx context.Context, cfg config.Config, fn func(*server.App) error) error {
	app, err := server.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("app init failed: %w", err)
	}
	defer app.Close()
	return fn(app)
}

func collectIDs(opts options, stdin io.Reader) ([]string, error) {
	ids := append([]string(nil), opts.args...)
	if opts.idsFile != "" {
		var r io.Reader = stdin
		if opts.idsFile != "-" {
			f, err := os.Open(opts.idsFile)
			if err != nil {
				return nil, fmt.Errorf("open ids file: %w", err)
			}
			defer f.Close()
			r = f
		}
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				ids = append(ids, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("read ids file: %w", err)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("build needs at least one module id")
	}
	return ids, nil
}

func build(ctx context.Context, app *server.App, ids []string, stdout io.Writer) error {
	result, buildErr := app.Build(ctx, ids)
	if result.Modules == nil {
		return buildErr
	}

	out := make(map[string]string, len(result.Modules))
	for _, mod := range result.Modules {
		if mod.Handled {
			out[mod.ModuleID] = mod.Body
		}
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("write modules: %w", err)
	}

	var flushErr *pipeline.FlushError
	if errors.As(buildErr, &flushErr) {
		zap.L().Error("some assets were not written", zap.Strings("failed", flushErr.Failed))
	}
	return buildErr
}

func rewriteMarkdown(app *server.App, files []string, asJSON bool, stdout io.Writer) error {
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(abs)
		if err != nil {
			return fmt.Errorf("read %s: %w", file, err)
		}
		res, err := app.Rewriter().Rewrite(string(data), filepath.ToSlash(abs))
		if err != nil {
			return fmt.Errorf("rewrite %s: %w", file, err)
		}
		if asJSON {
			if err := json.NewEncoder(stdout).Encode(res); err != nil {
				return err
			}
			continue
		}
		if _, err := io.WriteString(stdout, res.Code); err != nil {
			return err
		}
	}
	return nil
}
