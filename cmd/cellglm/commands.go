package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/cellglm/internal/analysis"
	"github.com/banshee-data/cellglm/internal/axona"
	"github.com/banshee-data/cellglm/internal/config"
	"github.com/banshee-data/cellglm/internal/fsutil"
	"github.com/banshee-data/cellglm/internal/glm"
	"github.com/banshee-data/cellglm/internal/monitoring"
	"github.com/banshee-data/cellglm/internal/plotting"
	"github.com/banshee-data/cellglm/internal/version"
	"github.com/banshee-data/cellglm/internal/viewer"
)

// options holds the flag values shared by the subcommands.
type options struct {
	configPath string
	verbose    bool
	ppm        float64
	tetrode    int
	cell       int
	family     string
	graph      string
	outDir     string
	asJSON     bool
	html       bool
	root       string
	addr       string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "cellglm",
		Short:         "Fit firing rate GLMs to Axona tetrode recordings",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			monitoring.SetWriter(cmd.ErrOrStderr(), true)
			monitoring.SetVerbose(o.verbose)
			return o.loadConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "config file (.json, .yaml or .yml); defaults to "+config.DefaultConfigPath+" when present")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "debug logging")
	pf.Float64Var(&o.ppm, "ppm", 0, "pixels per metre of the position camera (default: from the position file)")
	pf.IntVar(&o.tetrode, "tetrode", 0, "tetrode number (default: the first in the session)")

	root.AddCommand(
		newCellsCmd(o),
		newFitCmd(o),
		newPlotCmd(o),
		newServeCmd(o),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the config file and applies flag overrides.
func (o *options) loadConfig(cmd *cobra.Command) error {
	path := o.configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err == nil {
			path = config.DefaultConfigPath
		}
	}
	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
		monitoring.Logf("loaded config %s", path)
	}

	flags := cmd.Flags()
	if flags.Changed("ppm") {
		cfg.PixelsPerMetre = &o.ppm
	}
	if flags.Changed("family") && o.family != "all" {
		cfg.Family = &o.family
	}
	if flags.Changed("graph") {
		g, err := analysis.ParseGraphType(o.graph)
		if err != nil {
			return err
		}
		name := g.String()
		cfg.Graph = &name
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	o.cfg = cfg
	return nil
}

func (o *options) settings() analysis.Settings {
	return analysis.SettingsFromConfig(o.cfg)
}

func (o *options) graphType() (analysis.GraphType, error) {
	return analysis.ParseGraphType(o.cfg.GetGraph())
}

// families returns the families the fit or plot should run.
func (o *options) families() []glm.Family {
	if o.family == "all" {
		return glm.Families()
	}
	return []glm.Family{o.cfg.GetFamily()}
}

func (o *options) addModelFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.cell, "cell", 1, "cell (cluster) number")
	cmd.Flags().StringVar(&o.family, "family", "", `model family, or "all" (default: Poisson)`)
	cmd.Flags().StringVar(&o.graph, "graph", "", "Rate (rate over time) or Rate_vs_Speed")
}

// openSession resolves the session files from args and loads one tetrode.
func (o *options) openSession(cmd *cobra.Command, cache *analysis.SessionCache, args []string) (*analysis.Session, error) {
	files, err := axona.DiscoverSession(cache.FS, args)
	if err != nil {
		return nil, err
	}
	tetrode := o.tetrode
	if tetrode == 0 {
		tetrode = files.Tetrodes[0].Number
	}
	sess, _, err := cache.Load(cmd.Context(), *files, tetrode, o.settings())
	return sess, err
}

const sessionArgsUsage = "<session dir | pos tetrode cut files...>"

func newCellsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "cells " + sessionArgsUsage,
		Short: "List the cells of a tetrode",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := &analysis.SessionCache{FS: fsutil.OSFileSystem{}}
			sess, err := o.openSession(cmd, cache, args)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s tetrode %d: %d spikes, %g pixels per metre\n",
				sess.Name(), sess.Tetrode, sess.Spikes, sess.PixelsPerMetre)
			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "cell\tspikes\tmean rate (Hz)")
			for _, c := range sess.Cells() {
				n, _ := sess.Units.Cell(c)
				rate := 0.0
				if sess.Duration > 0 {
					rate = float64(len(n.Times)) / sess.Duration
				}
				fmt.Fprintf(tw, "%d\t%d\t%.2f\n", c, len(n.Times), rate)
			}
			return tw.Flush()
		},
	}
}

// computeAll fits every requested family on one loaded session.
func (o *options) computeAll(cmd *cobra.Command, args []string) ([]*analysis.Output, error) {
	graph, err := o.graphType()
	if err != nil {
		return nil, err
	}
	cache := &analysis.SessionCache{FS: fsutil.OSFileSystem{}}
	sess, err := o.openSession(cmd, cache, args)
	if err != nil {
		return nil, err
	}

	var outs []*analysis.Output
	var errs []error
	for _, f := range o.families() {
		out, err := analysis.Compute(cmd.Context(), sess, analysis.Request{Cell: o.cell, Family: f, Graph: graph}, nil)
		if err != nil {
			if len(o.families()) == 1 {
				return nil, err
			}
			monitoring.Logf("%s: %v", f, err)
			errs = append(errs, err)
			continue
		}
		outs = append(outs, out)
	}
	if len(outs) == 0 {
		return nil, errors.Join(errs...)
	}
	return outs, nil
}

func newFitCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fit " + sessionArgsUsage,
		Short: "Fit a model to one cell and print the coefficients",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outs, err := o.computeAll(cmd, args)
			if err != nil {
				return err
			}
			if o.asJSON {
				fits := make([]*glm.Result, len(outs))
				for i, out := range outs {
					fits[i] = out.Fit
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(fits)
			}
			for _, out := range outs {
				printFit(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	o.addModelFlags(cmd)
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print the fits as JSON")
	return cmd
}

func printFit(w io.Writer, out *analysis.Output) {
	fit := out.Fit
	fmt.Fprintf(w, "%s (link %s) on %s\n", out.Title(), fit.Family.LinkName(), strings.ToLower(out.XLabel))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tcoef\tstd err")
	names := []string{"x"}
	if fit.Intercept {
		names = []string{"intercept", "x"}
	}
	for i, name := range names {
		fmt.Fprintf(tw, "%s\t%.6g\t%.6g\n", name, fit.Params[i], fit.StdErrors[i])
	}
	tw.Flush()
	fmt.Fprintf(w, "n=%d deviance=%.6g null=%.6g pseudo R2=%.4f scale=%.4g iterations=%d converged=%t\n\n",
		fit.NObs, fit.Deviance, fit.NullDeviance, fit.PseudoR2(), fit.Scale, fit.Iterations, fit.Converged)
}

func newPlotCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot " + sessionArgsUsage,
		Short: "Fit a model and save the figure",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outs, err := o.computeAll(cmd, args)
			if err != nil {
				return err
			}
			fs := fsutil.OSFileSystem{}
			if err := fs.MkdirAll(o.outDir, 0o755); err != nil {
				return err
			}
			for _, out := range outs {
				path := filepath.Join(o.outDir, plotting.ImageName(out))
				if err := plotting.SavePNG(out, path, plotting.DefaultWidth, plotting.DefaultHeight); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				if !o.html {
					continue
				}
				f, err := os.Create(strings.TrimSuffix(path, ".png") + ".html")
				if err != nil {
					return err
				}
				err = plotting.RenderHTML(f, out)
				if cerr := f.Close(); err == nil {
					err = cerr
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), f.Name())
			}
			return nil
		},
	}
	o.addModelFlags(cmd)
	cmd.Flags().StringVar(&o.outDir, "out", ".", "directory for saved figures")
	cmd.Flags().BoolVar(&o.html, "html", false, "also write an interactive HTML chart")
	return cmd
}

func newServeCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the browser viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(o.root)
			if err != nil {
				return err
			}
			graph, err := o.graphType()
			if err != nil {
				return err
			}
			srv := viewer.NewServer(viewer.Options{
				DataRoot: root,
				OutDir:   o.outDir,
				Settings: o.settings(),
				Family:   o.cfg.GetFamily(),
				Graph:    graph,
			})
			return srv.Run(cmd.Context(), o.addr)
		},
	}
	cmd.Flags().StringVar(&o.root, "root", ".", "data root holding session directories")
	cmd.Flags().StringVar(&o.addr, "addr", "localhost:8080", "listen address")
	cmd.Flags().StringVar(&o.outDir, "out", "figures", "directory for saved figures")
	cmd.Flags().StringVar(&o.family, "family", "", "family preselected in the viewer")
	cmd.Flags().StringVar(&o.graph, "graph", "", "graph preselected in the viewer")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cellglm", version.String())
		},
	}
}
