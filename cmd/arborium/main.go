package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/flying-sheep/arborium"
	"github.com/flying-sheep/arborium/internal/config"
)

type options struct {
	Language  string          `short:"l" long:"language" description:"language identifier of the input"`
	PluginDir *flags.Filename `short:"d" long:"plugin-dir" description:"local directory of compiled grammar plugins"`
	BaseURL   *string         `short:"u" long:"base-url" description:"remote artifact root (requires --manifest)"`
	Manifest  *flags.Filename `short:"m" long:"manifest" description:"JSON catalog of languages and artifacts"`
	Theme     *string         `short:"t" long:"theme" description:"built-in theme name or TOML theme file"`
	Config    flags.Filename  `short:"c" long:"config" description:"YAML configuration file"`
	Output    *flags.Filename `short:"o" long:"output" description:"output file path (default stdout)"`
	FullPage  bool            `short:"p" long:"page" description:"emit a standalone HTML page instead of a fragment"`
	CSSOnly   bool            `long:"css" description:"emit only the theme stylesheet and exit"`
	Languages bool            `long:"languages" description:"list resolvable languages and exit"`
	Strict    bool            `long:"strict" description:"fail on highlight errors instead of falling back to plain text"`
	Verbose   bool            `short:"v" long:"verbose" description:"enable verbose logging"`

	Positional struct {
		InputPath flags.Filename `positional-arg-name:"inputPath" description:"input file (default stdin)"`
	} `positional-args:"yes"`
}

func main() {
	opts := &options{}

	fp := flags.NewParser(opts, flags.Default)
	fp.LongDescription = `
arborium highlights source code by running sandboxed wasm grammar plugins.
Output is an HTML fragment of <a-*> elements, styled by the theme stylesheet.`

	if _, err := fp.Parse(); err != nil {
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "arborium: %v\n", err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	cfg, err := config.Load(string(opts.Config))
	if err != nil {
		return err
	}
	applyFlags(&cfg, opts)
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hlOpts := arborium.FromConfig(cfg)
	hlOpts.Logger = log
	hlOpts.Degrade = !opts.Strict

	h, err := arborium.New(ctx, hlOpts)
	if err != nil {
		return err
	}
	defer h.Close(ctx)

	out := io.Writer(os.Stdout)
	if opts.Output != nil {
		f, err := os.Create(string(*opts.Output))
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	switch {
	case opts.CSSOnly:
		_, err = io.WriteString(out, h.Stylesheet())
		return err
	case opts.Languages:
		for _, lang := range h.Languages() {
			fmt.Fprintln(out, lang)
		}
		return nil
	}

	if opts.Language == "" {
		return fmt.Errorf("--language is required")
	}

	source, err := readInput(opts)
	if err != nil {
		return err
	}

	fragment, err := h.Highlight(ctx, opts.Language, source)
	if err != nil {
		return err
	}

	if opts.FullPage {
		return writePage(out, h.Stylesheet(), fragment)
	}
	_, err = io.WriteString(out, fragment)
	return err
}

// applyFlags layers command line values over the loaded configuration.
func applyFlags(cfg *config.Options, opts *options) {
	if opts.PluginDir != nil {
		cfg.PluginDir = string(*opts.PluginDir)
	}
	if opts.BaseURL != nil {
		cfg.BaseURL = *opts.BaseURL
	}
	if opts.Manifest != nil {
		cfg.Manifest = string(*opts.Manifest)
	}
	if opts.Theme != nil {
		cfg.Theme = *opts.Theme
	}
}

func readInput(opts *options) (string, error) {
	if opts.Positional.InputPath != "" {
		data, err := os.ReadFile(string(opts.Positional.InputPath))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func writePage(out io.Writer, css, fragment string) error {
	_, err := fmt.Fprintf(out, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
%s</style>
</head>
<body>
<pre class="%s">%s</pre>
</body>
</html>
`, css, arborium.ContainerClass, fragment)
	return err
}
