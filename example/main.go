package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/webassembly"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/ivanvanderbyl/pdfdocx"
)

func main() {
	cmd := &cli.Command{
		Name:  "pdfdocx",
		Usage: "Reconstruct PDF files into flowing documents",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log per-region and per-strategy diagnostics",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Pages and regions reconstructed at once (0: number of CPUs)",
			},
			&cli.BoolFlag{
				Name:  "no-tables",
				Usage: "Treat table regions as flowing text",
			},
			&cli.BoolFlag{
				Name:  "text-tables",
				Usage: "Also detect tables without ruling lines from aligned text",
			},
			&cli.StringFlag{
				Name:  "decoder",
				Usage: "Page decoder: pdfium or go",
				Value: string(pdfdocx.DecoderPdfium),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logrus.SetOutput(os.Stderr)
			if cmd.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "convert",
				Usage: "Convert a PDF file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "input",
						Aliases:  []string{"i"},
						Usage:    "Input PDF file path",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: stdout)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: docx, markdown or html",
						Value:   "docx",
					},
					&cli.IntFlag{
						Name:  "start-page",
						Usage: "Start page number (0-indexed)",
						Value: -1,
					},
					&cli.IntFlag{
						Name:  "end-page",
						Usage: "End page number (0-indexed)",
						Value: -1,
					},
					&cli.BoolFlag{
						Name:  "metrics",
						Usage: "Log processing time and document statistics",
					},
				},
				Action: convertPDF,
			},
			{
				Name:  "serve",
				Usage: "Serve conversions over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "Listen address",
						Value: ":8080",
					},
					&cli.Int64Flag{
						Name:  "max-upload",
						Usage: "Maximum upload size in bytes",
						Value: 64 << 20,
					},
				},
				Action: serve,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// configFromFlags maps the global flags onto the converter configuration.
func configFromFlags(cmd *cli.Command) pdfdocx.Config {
	config := pdfdocx.DefaultConfig()
	config.Decoder = pdfdocx.DecoderKind(cmd.String("decoder"))
	config.DetectTables = !cmd.Bool("no-tables")
	config.UseSegmentBasedTables = cmd.Bool("text-tables")
	config.PageWorkers = int(cmd.Int("workers"))
	config.RegionWorkers = int(cmd.Int("workers"))
	config.Logger = logrus.StandardLogger()
	return config
}

// writerFor returns the writer and MIME type for an output format.
func writerFor(format string) (pdfdocx.Writer, string, error) {
	switch format {
	case "docx":
		return pdfdocx.NewDocxWriter(), "application/vnd.openxmlformats-officedocument.wordprocessingml.document", nil
	case "markdown", "md":
		return pdfdocx.NewMarkdownWriter(), "text/markdown; charset=utf-8", nil
	case "html":
		return pdfdocx.NewHTMLWriter(), "text/html; charset=utf-8", nil
	}
	return nil, "", errors.Errorf("unknown output format %q", format)
}

// withInstance runs fn with a pdfium instance, or with nil when the pure-Go
// decoder is selected.
func withInstance(decoder string, fn func(instance pdfium.Pdfium) error) error {
	if decoder == string(pdfdocx.DecoderGo) {
		return fn(nil)
	}

	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to initialise pdfium")
	}
	defer pool.Close()

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		return errors.Wrap(err, "failed to get pdfium instance")
	}
	defer instance.Close()

	return fn(instance)
}

func convertPDF(ctx context.Context, cmd *cli.Command) error {
	inputPath := cmd.String("input")
	outputPath := cmd.String("output")
	startPage := int(cmd.Int("start-page"))
	endPage := int(cmd.Int("end-page"))

	writer, _, err := writerFor(cmd.String("format"))
	if err != nil {
		return err
	}

	config := configFromFlags(cmd)
	config.EnableMetricsLogging = cmd.Bool("metrics")

	return withInstance(cmd.String("decoder"), func(instance pdfium.Pdfium) error {
		converter := pdfdocx.NewConverterWithConfig(instance, config)

		info, err := converter.GetDocumentInfo(inputPath)
		if err != nil {
			return errors.Wrap(err, "failed to get document info")
		}
		logrus.WithField("pages", info.PageCount).Info("Processing PDF")

		var result *pdfdocx.Result
		if startPage >= 0 || endPage >= 0 {
			logrus.WithFields(logrus.Fields{"from": startPage + 1, "to": endPage + 1}).Info("Converting page range")
			result, err = converter.ConvertPageRange(ctx, inputPath, startPage, endPage)
		} else {
			result, err = converter.ConvertFile(ctx, inputPath)
		}
		if err != nil {
			return errors.Wrap(err, "failed to convert PDF")
		}

		var out io.Writer = os.Stdout
		if outputPath != "" {
			f, err := os.Create(outputPath)
			if err != nil {
				return errors.Wrap(err, "failed to create output file")
			}
			defer f.Close()
			out = f
		}
		if err := result.Write(out, writer); err != nil {
			return err
		}
		if outputPath != "" {
			fmt.Fprintf(os.Stderr, "Document written to %s\n", outputPath)
		}
		return nil
	})
}
