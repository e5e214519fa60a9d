package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vrdf/internal/core/errors"
	"vrdf/internal/core/store"
	"vrdf/internal/core/txn"
	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/ntriples"
	"vrdf/internal/engine/query"
	"vrdf/internal/engine/shapes"
	"vrdf/internal/engine/versions"
	"vrdf/internal/output"
	"vrdf/internal/shared/util"
)

func parseVersionArg(raw string) (int64, error) {
	if raw == "latest" {
		return versions.Latest, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", raw, err)
	}
	return id, nil
}

func openOptions(id int64) []txn.OpenOption {
	if id > 0 {
		return []txn.OpenOption{txn.WithVersion(id)}
	}
	return nil
}

func printCommit(w io.Writer, res *txn.CommitResult) {
	v := res.Version
	fmt.Fprintf(w, "committed %s (%s, %d ops, %d triples)\n", v, v.Kind, v.OpCount, res.Graph.Len())
	if res.PostcommitErr != nil {
		fmt.Fprintf(w, "warning: %v\n", res.PostcommitErr)
	}
}

func loadCmd(flags *globalFlags) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "load <dataset> <file|->",
		Short: "Commit every triple of an N-Triples document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				res, n, err := s.Load(ctx, args[0], r, openOptions(id)...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "loaded %d triples\n", n)
				printCommit(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "version", 0, "Logical version id (default: clock-derived)")
	return cmd
}

func tripleFromArgs(args []string) (graph.Triple, error) {
	terms := make([]graph.Term, 3)
	for i, raw := range args {
		t, err := ntriples.ParseTerm(raw)
		if err != nil {
			return graph.Triple{}, fmt.Errorf("term %d: %w", i+1, err)
		}
		terms[i] = t
	}
	tr := graph.NewTriple(terms[0], terms[1], terms[2])
	return tr, tr.Validate()
}

func stageCmd(flags *globalFlags, use, short string, stage func(*txn.Changeset, graph.Triple) error) *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   use + " <dataset> <subject> <predicate> <object>",
		Short: short,
		Long: short + `. Terms use N-Triples syntax, e.g.
  vrdf ` + use + ` bldg '<urn:bldg#vav1>' '<http://www.w3.org/1999/02/22-rdf-syntax-ns#type>' '<https://brickschema.org/schema/Brick#VAV>'`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := tripleFromArgs(args[1:])
			if err != nil {
				return err
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				res, err := s.Update(ctx, args[0], func(cs *txn.Changeset) error {
					return stage(cs, tr)
				}, openOptions(id)...)
				if err != nil {
					return err
				}
				printCommit(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&id, "version", 0, "Logical version id (default: clock-derived)")
	return cmd
}

func addCmd(flags *globalFlags) *cobra.Command {
	return stageCmd(flags, "add", "Commit one triple insertion", func(cs *txn.Changeset, t graph.Triple) error {
		return cs.Add(t)
	})
}

func removeCmd(flags *globalFlags) *cobra.Command {
	return stageCmd(flags, "remove", "Commit one triple deletion", func(cs *txn.Changeset, t graph.Triple) error {
		return cs.Remove(t)
	})
}

func latestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "latest <dataset>",
		Short: "Print the dataset's latest state as N-Triples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				g, err := s.Latest(ctx, args[0])
				if err != nil {
					return err
				}
				return ntriples.WriteGraph(cmd.OutOrStdout(), g)
			})
		},
	}
}

func atCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "at <dataset> <version>",
		Short: "Print the dataset's state at exactly one version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseVersionArg(args[1])
			if err != nil {
				return err
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				g, err := s.At(ctx, args[0], id)
				if err != nil {
					return err
				}
				return ntriples.WriteGraph(cmd.OutOrStdout(), g)
			})
		},
	}
}

func asOfCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "as-of <dataset> <RFC3339 time>",
		Short: "Print the dataset's state as of a point in time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := time.Parse(time.RFC3339, args[1])
			if err != nil {
				return fmt.Errorf("invalid time %q: %w", args[1], err)
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				g, err := s.AsOf(ctx, args[0], t)
				if err != nil {
					return err
				}
				return ntriples.WriteGraph(cmd.OutOrStdout(), g)
			})
		},
	}
}

func logCmd(flags *globalFlags) *cobra.Command {
	var showOps bool
	cmd := &cobra.Command{
		Use:   "log [dataset]",
		Short: "List versions, oldest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tKIND\tORIGIN\tOPS\tCREATED")
				for v := range s.IterVersions() {
					if len(args) == 1 && v.Dataset != args[0] {
						continue
					}
					origin := string(v.Origin)
					if v.Reverts != 0 {
						origin = fmt.Sprintf("%s of %d", v.Origin, v.Reverts)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", v, v.Kind, origin, v.OpCount, v.CreatedAt.Format(time.RFC3339))
					if !showOps {
						continue
					}
					ops, err := s.Ops(ctx, v)
					if err != nil {
						return err
					}
					for _, op := range ops {
						fmt.Fprintf(tw, "\t%s\t%s\n", op.Kind, op.Triple)
					}
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&showOps, "ops", false, "Print each version's operations")
	return cmd
}

func diffCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <dataset> <from> <to>",
		Short: "Show triples added and removed between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseVersionArg(args[1])
			if err != nil {
				return err
			}
			to, err := parseVersionArg(args[2])
			if err != nil {
				return err
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				added, removed, err := s.Diff(ctx, args[0], from, to)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, t := range removed {
					fmt.Fprintf(out, "- %s\n", t)
				}
				for _, t := range added {
					fmt.Fprintf(out, "+ %s\n", t)
				}
				return nil
			})
		},
	}
}

func undoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <dataset>",
		Short: "Revert the dataset's latest version with a new version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				res, err := s.UndoLast(ctx, args[0])
				if err != nil {
					return err
				}
				printCommit(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func redoCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "redo <dataset>",
		Short: "Re-apply the version reverted by the latest undo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				res, err := s.Redo(ctx, args[0])
				if err != nil {
					return err
				}
				printCommit(cmd.OutOrStdout(), res)
				return nil
			})
		},
	}
}

func countCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count [dataset]",
		Short: "Count triples at latest for one dataset or the whole store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				var n int
				if len(args) == 1 {
					g, err := s.Latest(ctx, args[0])
					if err != nil {
						return err
					}
					n = g.Len()
				} else {
					var err error
					if n, err = s.Len(ctx); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
}

func matchCmd(flags *globalFlags) *cobra.Command {
	var (
		at       string
		prefixes map[string]string
	)
	cmd := &cobra.Command{
		Use:   "match <dataset> <pattern>",
		Short: "Print the triples matching one triple pattern",
		Long: `match evaluates a single triple pattern against a dataset version.
Positions take ?variables, *, the keyword a, prefixed names (rdf, rdfs, owl,
xsd and brick are predefined) or N-Triples terms, e.g.
  vrdf match bldg '?vav a brick:VAV LIMIT 10'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := query.Parse(args[1], prefixes)
			if err != nil {
				return err
			}
			id, err := parseVersionArg(at)
			if err != nil {
				return err
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				var g *graph.Graph
				if id == versions.Latest {
					g, err = s.Latest(ctx, args[0])
				} else {
					g, err = s.At(ctx, args[0], id)
				}
				if err != nil {
					return err
				}
				enc := ntriples.NewEncoder(cmd.OutOrStdout())
				for _, t := range q.Run(g) {
					if err := enc.Encode(t); err != nil {
						return err
					}
				}
				return enc.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&at, "version", "latest", "Version to match against")
	cmd.Flags().StringToStringVar(&prefixes, "prefix", nil, "Extra prefixes, e.g. --prefix b=urn:bldg#")
	return cmd
}

func exportCmd(flags *globalFlags) *cobra.Command {
	var (
		at       string
		format   string
		limit    int
		outPath  string
		prefixes map[string]string
	)
	cmd := &cobra.Command{
		Use:   "export <dataset>",
		Short: "Render a dataset version as nt, dot, mermaid or tsv",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseVersionArg(at)
			if err != nil {
				return err
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				var g *graph.Graph
				if id == versions.Latest {
					g, err = s.Latest(ctx, args[0])
				} else {
					g, err = s.At(ctx, args[0], id)
				}
				if err != nil {
					return err
				}

				opts := output.Options{Prefixes: maps.Clone(query.DefaultPrefixes), MaxTriples: limit}
				maps.Copy(opts.Prefixes, prefixes)

				var rendered string
				switch format {
				case "nt":
					var b strings.Builder
					err = ntriples.WriteGraph(&b, g)
					rendered = b.String()
				case "dot":
					rendered, err = output.NewDOTGenerator(g, opts).Generate(args[0])
				case "mermaid":
					rendered, err = output.NewMermaidGenerator(g, opts).Generate()
				case "tsv":
					rendered, err = output.NewTSVGenerator(g, opts).Generate()
				default:
					return fmt.Errorf("unknown format %q (want nt, dot, mermaid or tsv)", format)
				}
				if err != nil {
					return err
				}
				if outPath != "" {
					if err := util.WriteFileWithDirs(outPath, []byte(rendered), 0o644); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d triples)\n", outPath, g.Len())
					return nil
				}
				_, err = io.WriteString(cmd.OutOrStdout(), rendered)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&at, "version", "latest", "Version to export")
	cmd.Flags().StringVarP(&format, "format", "f", "nt", "Output format: nt, dot, mermaid or tsv")
	cmd.Flags().IntVar(&limit, "limit", 0, "Render at most this many triples (0 = all)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to this file instead of stdout")
	cmd.Flags().StringToStringVar(&prefixes, "prefix", nil, "Extra prefixes for compact labels")
	return cmd
}

func validateCmd(flags *globalFlags) *cobra.Command {
	var (
		at         string
		shapesFile string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "validate <dataset>",
		Short: "Check a dataset version against a shapes file",
		Long: `validate runs the shapes rules against one version without committing
anything. The shapes file defaults to hooks.shapes_file from the config.
With --format sarif the report is printed and the command succeeds; in text
mode any violation makes the command fail.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseVersionArg(at)
			if err != nil {
				return err
			}
			if shapesFile == "" {
				cfg, err := loadConfig(flags)
				if err != nil {
					return err
				}
				shapesFile = cfg.Hooks.ShapesFile
			}
			if shapesFile == "" {
				return fmt.Errorf("no shapes file: pass --shapes or set hooks.shapes_file")
			}
			v, err := shapes.Load(shapesFile)
			if err != nil {
				return err
			}
			return withStore(cmd, flags, func(ctx context.Context, s *store.Store) error {
				var g *graph.Graph
				if id == versions.Latest {
					g, err = s.Latest(ctx, args[0])
				} else {
					g, err = s.At(ctx, args[0], id)
				}
				if err != nil {
					return err
				}
				violations, err := v.Check(ctx, g)
				if err != nil {
					return err
				}

				w := cmd.OutOrStdout()
				switch format {
				case "sarif":
					ref := args[0] + "@" + at
					data, err := output.GenerateSARIF(ref, violations, query.DefaultPrefixes)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintf(w, "%s\n", data)
					return err
				case "text":
					for _, vi := range violations {
						fmt.Fprintln(w, vi)
					}
					if len(violations) > 0 {
						return errors.Newf(errors.CodeValidationError, "%d violation(s) in %s", len(violations), args[0])
					}
					fmt.Fprintln(w, "ok")
					return nil
				default:
					return fmt.Errorf("unknown format %q (want text or sarif)", format)
				}
			})
		},
	}
	cmd.Flags().StringVar(&at, "version", "latest", "Version to validate")
	cmd.Flags().StringVar(&shapesFile, "shapes", "", "Shapes YAML file (default hooks.shapes_file)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text or sarif")
	return cmd
}
