package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"doctools/internal/settings"
	"doctools/internal/transform"
)

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var dest string
	var dpi int

	kinds := make([]string, 0, len(transform.Kinds()))
	for _, k := range transform.Kinds() {
		kinds = append(kinds, k.String())
	}

	cmd := &cobra.Command{
		Use:   "convert <kind> <path>...",
		Short: "Convert between PDF, Word and image formats",
		Long: "Convert files or directories. Kinds: " + strings.Join(kinds, ", ") + ".\n" +
			"img2pdf merges every image of a directory into one output.pdf.",
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: kinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := transform.ParseKind(args[0])
			if err != nil {
				return err
			}
			return runConvert(cmd, ctx, kind, args[1:], dest, dpi)
		},
	}

	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Output directory (defaults to each input's directory)")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "Rendering resolution for pdf2img")
	return cmd
}

func runConvert(cmd *cobra.Command, ctx *commandContext, kind transform.Kind, paths []string, dest string, dpi int) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	if dpi > 0 {
		cfg.Transform.DPI = dpi
	}
	if dest != "" {
		if dest, err = filepath.Abs(dest); err != nil {
			return fmt.Errorf("resolve destination: %w", err)
		}
	}

	a, err := ctx.newApp(cmd.Context())
	if err != nil {
		return err
	}
	tr, err := a.Transformer()
	if err != nil {
		_ = a.Close(cmd.Context())
		return err
	}

	var rejected []error
	registered := 0
	for _, path := range paths {
		jobs, err := tr.Register(cmd.Context(), kind, strings.TrimSpace(path), dest)
		registered += len(jobs)
		if err != nil {
			rejected = append(rejected, err)
		}
	}
	if registered == 0 {
		_ = a.Close(cmd.Context())
		return errors.Join(rejected...)
	}
	lastDir, _ := inputDir(mustAbs(paths[len(paths)-1]))
	a.Settings().Update(func(s *settings.Settings) {
		s.TransformKind = kind.String()
		s.LastDir = lastDir
	})

	out := cmd.OutOrStdout()
	return runHosted(cmd.Context(), a,
		func(taskCtx context.Context) ([]transform.Outcome, error) {
			if err := tr.Run(taskCtx); err != nil {
				return nil, err
			}
			return tr.Wait(taskCtx)
		},
		func(outcomes []transform.Outcome, err error) error {
			if len(outcomes) > 0 {
				if reportErr := reportConversions(out, outcomes); reportErr != nil {
					rejected = append(rejected, reportErr)
				}
			}
			return errors.Join(append(rejected, err)...)
		},
	)
}

func reportConversions(out io.Writer, outcomes []transform.Outcome) error {
	tbl := newResultTable(
		[]string{"Job", "Kind", "Source", "Status", "Files", "Detail"},
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
		3,
	)
	failed := 0
	for _, o := range outcomes {
		source := strings.Join(o.Job.Args, ", ")
		if len(o.Job.Args) > 1 {
			source = fmt.Sprintf("%s (%d files)", filepath.Dir(o.Job.Args[0]), len(o.Job.Args))
		}
		status, kind := outcomeStatus(o.Err)
		detail := o.Job.Dest
		if o.Err != nil {
			failed++
			detail = truncate(o.Err.Error(), 80)
		}
		tbl.addRow(kind,
			shortID(o.Job.ID),
			o.Job.Operation,
			truncate(source, 60),
			status,
			strconv.Itoa(len(o.Output.Files)),
			detail,
		)
	}
	fmt.Fprintln(out, tbl.render(shouldColorize(out)))
	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(outcomes))
	}
	return nil
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return path
	}
	return abs
}
