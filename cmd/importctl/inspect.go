package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/skupattern"
)

type inspectOptions struct {
	sheet    string
	encoding string
}

func (o *inspectOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.sheet, "sheet", "", "Sheet to inspect (default: first usable sheet)")
	cmd.Flags().StringVar(&o.encoding, "encoding", "", "CSV character set, e.g. windows-1250 (default: detect)")
}

// fileReport is the output of the analyze command.
type fileReport struct {
	File        string               `json:"file"`
	Analysis    *analyzer.Analysis   `json:"analysis"`
	Sheet       string               `json:"sheet"`
	Mapping     []string             `json:"mapping"`
	Suggestions []mapping.Suggestion `json:"suggestions"`
	Report      mapping.Report       `json:"mapping_report"`
	Confidence  mapping.Confidence   `json:"mapping_confidence"`
}

func newAnalyzeCmd() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Describe a file's sheets and suggest a column mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rep, err := analyzeFile(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rep)
		},
	}
	opts.bind(cmd)
	return cmd
}

func analyzeFile(ctx context.Context, path string, opts inspectOptions) (*fileReport, error) {
	ft, err := analyzer.DetectType(path, nil)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	a, err := analyzer.Analyze(ctx, path, ft, analyzer.Options{Encoding: opts.encoding}, nil)
	if err != nil {
		return nil, err
	}
	sheet, err := a.Primary(opts.sheet)
	if err != nil {
		return nil, err
	}

	m := mapping.Map(sheet.Headers)
	return &fileReport{
		File:        filepath.Base(path),
		Analysis:    a,
		Sheet:       sheet.Name,
		Mapping:     m,
		Suggestions: mapping.Suggest(sheet.Headers),
		Report:      mapping.Validate(m, mapping.DefaultCoverageFloor),
		Confidence:  mapping.Assess(m, mapping.DefaultCoverageFloor),
	}, nil
}

func newSkusCmd() *cobra.Command {
	var opts inspectOptions

	cmd := &cobra.Command{
		Use:   "skus <file>",
		Short: "Detect the SKU naming pattern used in a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			skus, err := collectSKUs(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), skupattern.Analyze(skus))
		},
	}
	opts.bind(cmd)
	return cmd
}

// collectSKUs returns the distinct non-empty SKUs of the primary sheet.
func collectSKUs(ctx context.Context, path string, opts inspectOptions) ([]string, error) {
	rep, err := analyzeFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	col, ok := mapping.Columns(rep.Mapping)[mapping.FieldVariantSKU]
	if !ok {
		return nil, withCode(exitUsage, fmt.Errorf("no SKU column found in %q", rep.Sheet))
	}

	it, err := analyzer.OpenRows(ctx, path, rep.Analysis.FileType, rep.Sheet, analyzer.Options{Encoding: opts.encoding})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	seen := make(map[string]bool)
	var skus []string
	for {
		cells, err := it.Next()
		if err == io.EOF {
			break
		}
		var rowErr *analyzer.RowError
		if errors.As(err, &rowErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if col >= len(cells) {
			continue
		}
		if sku := strings.TrimSpace(cells[col]); sku != "" && !seen[sku] {
			seen[sku] = true
			skus = append(skus, sku)
		}
	}
	return skus, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
