package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"lambra/internal/apperr"
	"lambra/internal/dsl"
	"lambra/internal/engine"
	"lambra/internal/generator"

	"github.com/spf13/cobra"
)

var errInvalid = errors.New("validation failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lambractl",
		Short:         "Offline tools for lambra service definitions",
		Long:          `lambractl validates YAML service definitions and renders their artifacts without a running server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newValidateCmd(), newRenderCmd())
	return root
}

func newValidateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate <file-or-dir>...",
		Short: "Check definitions: fields, endpoints, JSON schemas",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := loadPaths(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			failed := 0
			for _, d := range defs {
				if !report(out, d, strict) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d definition(s): %w", failed, len(defs), errInvalid)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Treat JSON Schema lint issues as errors")
	return cmd
}

// report печатает результат проверки одного файла; false - есть ошибки.
func report(out io.Writer, d *dsl.Definition, strict bool) bool {
	ok := true
	if err := d.Validate(); err != nil {
		ok = false
		fields := apperr.FieldsOf(err)
		if len(fields) == 0 {
			fmt.Fprintf(out, "%s: %v\n", d.Source, err)
		}
		for _, f := range fields {
			fmt.Fprintf(out, "%s: error %s [%s]: %s\n", d.Source, f.Field, f.Code, f.Message)
		}
	}
	level := "warning"
	if strict {
		level = "error"
	}
	for _, f := range d.Lint() {
		if strict {
			ok = false
		}
		fmt.Fprintf(out, "%s: %s %s [%s]: %s\n", d.Source, level, f.Field, f.Code, f.Message)
	}
	if ok {
		fmt.Fprintf(out, "%s: ok (%s, %d entities)\n", d.Source, d.Project.Namespace, len(d.Entities))
	}
	return ok
}

func loadPaths(args []string) ([]*dsl.Definition, error) {
	var defs []*dsl.Definition
	for _, p := range args {
		st, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if st.IsDir() {
			all, err := dsl.LoadAllDefinitions(p)
			if err != nil {
				return nil, err
			}
			defs = append(defs, all...)
			continue
		}
		d, err := dsl.LoadDefinitionFile(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func newRenderCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render migrations, models and route manifest of a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := dsl.LoadDefinitionFile(args[0])
			if err != nil {
				return err
			}
			p, err := d.Assemble()
			if err != nil {
				return err
			}
			arts, err := generator.Project(p)
			if err != nil {
				return err
			}
			ws := &engine.Workspace{Root: outDir}
			for _, a := range arts {
				st, err := ws.PutString(path.Join(p.Namespace, a.Path), a.Content)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", st.Key, st.Size, st.SHA256[:12])
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "out", "Output directory")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lambractl:", err)
		os.Exit(1)
	}
}
