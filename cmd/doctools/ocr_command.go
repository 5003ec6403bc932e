package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"doctools/internal/recognition"
	"doctools/internal/settings"
)

func newOCRCommand(ctx *commandContext) *cobra.Command {
	var concurrency int
	var outDir string

	cmd := &cobra.Command{
		Use:   "ocr <file|dir|url>",
		Short: "Recognise text in images and PDFs",
		Long: "Recognise text in an image, a PDF, a URL or every supported file in a directory.\n" +
			"A single input is printed to stdout; a directory, or any input with --out, writes <stem>.txt files.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOCR(cmd, ctx, strings.TrimSpace(args[0]), concurrency, outDir)
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 0, "Inputs recognised at once (remembered for later runs)")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory for <stem>.txt results")
	return cmd
}

func runOCR(cmd *cobra.Command, ctx *commandContext, target string, concurrency int, outDir string) error {
	a, err := ctx.newApp(cmd.Context())
	if err != nil {
		return err
	}
	r, err := a.Recognizer(cmd.Context())
	if err != nil {
		_ = a.Close(cmd.Context())
		return err
	}
	if cmd.Flags().Changed("concurrency") {
		if err := r.SetConcurrency(concurrency); err != nil {
			_ = a.Close(cmd.Context())
			return err
		}
		a.Settings().Update(func(s *settings.Settings) { s.OCRConcurrency = concurrency })
	}

	isDir := false
	if !isRemote(target) {
		abs, err := filepath.Abs(target)
		if err == nil {
			target = abs
		}
		dir, isDirectory := inputDir(target)
		isDir = isDirectory
		a.Settings().Update(func(s *settings.Settings) { s.LastDir = dir })
	}
	if outDir == "" && isDir {
		outDir = target
	}

	out := cmd.OutOrStdout()
	return runHosted(cmd.Context(), a,
		func(taskCtx context.Context) (recognition.Results, error) {
			return r.RecognizePath(taskCtx, target)
		},
		func(results recognition.Results, err error) error {
			if outDir == "" {
				if err != nil {
					return err
				}
				for _, res := range results {
					fmt.Fprintln(out, res.Value.Text)
				}
				return nil
			}
			if results == nil {
				return err
			}
			return reportOCR(out, outDir, results)
		},
	)
}

func reportOCR(out io.Writer, outDir string, results recognition.Results) error {
	written, err := recognition.WriteResults(outDir, results)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, ocrTable(results).render(shouldColorize(out)))
	fmt.Fprintf(out, "Wrote %d result file(s) to %s\n", len(written), outDir)
	if failed := results.Failed(); failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(results))
	}
	return nil
}

func ocrTable(results recognition.Results) *resultTable {
	keys := make([]string, 0, len(results))
	for key := range results {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tbl := newResultTable(
		[]string{"Input", "Status", "Lines", "Detail"},
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
		1,
	)
	for _, key := range keys {
		res := results[key]
		name := key
		if !isRemote(key) {
			name = filepath.Base(key)
		}
		status, kind := outcomeStatus(res.Err)
		if res.Err != nil {
			tbl.addRow(kind, name, status, "-", truncate(res.Err.Error(), 80))
			continue
		}
		tbl.addRow(kind, name, status, strconv.Itoa(len(res.Value.Lines)), "")
	}
	return tbl
}

func isRemote(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
