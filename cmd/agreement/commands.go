package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mimir-aip/mimir-curation/pkg/agreement"
	"github.com/mimir-aip/mimir-curation/pkg/cas"
	"github.com/mimir-aip/mimir-curation/pkg/casdiff"
	"github.com/mimir-aip/mimir-curation/pkg/logging"
)

// layersFile is the yaml layout of the --layers file
type layersFile struct {
	Layers []casdiff.LayerDefinition `yaml:"layers"`
}

type layerFlags struct {
	layersFile string
	layer      string
	feature    string
	kind       string
	source     string
	target     string
	linkMode   string
}

func (f *layerFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.layersFile, "layers", "", "yaml file declaring the layers to diff")
	cmd.Flags().StringVar(&f.layer, "layer", "", "annotation type of the layer")
	cmd.Flags().StringVar(&f.feature, "feature", "", "feature compared between users")
	cmd.Flags().StringVar(&f.kind, "kind", "", "layer kind: span, relation or document")
	cmd.Flags().StringVar(&f.source, "source", "", "source feature of a relation layer")
	cmd.Flags().StringVar(&f.target, "target", "", "target feature of a relation layer")
	cmd.Flags().StringVar(&f.linkMode, "link-mode", "", "treat --feature as a link feature with this mode")
}

func (f *layerFlags) definitions() ([]casdiff.LayerDefinition, error) {
	if f.layersFile != "" {
		data, err := os.ReadFile(f.layersFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read layers file: %w", err)
		}
		var file layersFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse layers file: %w", err)
		}
		if len(file.Layers) == 0 {
			return nil, fmt.Errorf("layers file %s declares no layers", f.layersFile)
		}
		return file.Layers, nil
	}

	if f.layer == "" {
		return nil, fmt.Errorf("either --layers or --layer is required")
	}
	d := casdiff.LayerDefinition{Kind: f.kind, Type: f.layer, Source: f.source, Target: f.target}
	switch {
	case f.linkMode != "":
		d.Links = []casdiff.LinkDefinition{{Name: f.feature, Mode: f.linkMode}}
	case f.feature != "":
		d.LabelFeatures = []string{f.feature}
	}
	return []casdiff.LayerDefinition{d}, nil
}

// loadDocuments reads user=path arguments into one CAS per user
func loadDocuments(args []string) (map[string]*cas.CAS, error) {
	casByUser := make(map[string]*cas.CAS, len(args))
	for _, arg := range args {
		user, path, ok := strings.Cut(arg, "=")
		if !ok || user == "" || path == "" {
			return nil, fmt.Errorf("invalid document argument %q, expected user=path", arg)
		}
		if _, dup := casByUser[user]; dup {
			return nil, fmt.Errorf("duplicate user: %s", user)
		}
		c, err := cas.Load(path)
		if err != nil {
			return nil, err
		}
		casByUser[user] = c
	}
	return casByUser, nil
}

func newRootCommand() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "agreement",
		Short:         "Compare annotations of several users and compute inter-annotator agreement",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLogger(logging.Config{Level: logLevel, Output: "stderr"})
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	root.AddCommand(newDiffCommand(), newComputeCommand(), newVersionCommand())
	return root
}

func newDiffCommand() *cobra.Command {
	var flags layerFlags
	var verbose bool

	cmd := &cobra.Command{
		Use:   "diff user=path [user=path...]",
		Short: "Align the annotations of several users and classify every position",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := flags.definitions()
			if err != nil {
				return err
			}
			registry, err := casdiff.NewRegistryFromDefinitions(defs...)
			if err != nil {
				return err
			}
			casByUser, err := loadDocuments(args)
			if err != nil {
				return err
			}

			result, err := agreement.NewService(registry).Diff(cmd.Context(), casByUser)
			if err != nil {
				return err
			}
			return printDiff(cmd.OutOrStdout(), result, verbose)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every position with its classification")
	return cmd
}

func printDiff(out io.Writer, result *casdiff.DiffResult, verbose bool) error {
	summary := result.Summary()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "users\t%s\n", strings.Join(result.CasGroupIDs(), ", "))
	fmt.Fprintf(w, "positions\t%d\n", summary.Total)
	fmt.Fprintf(w, "agreement\t%d\n", summary.Agreement)
	fmt.Fprintf(w, "disagreement\t%d\n", summary.Disagreement)
	fmt.Fprintf(w, "incomplete\t%d\n", summary.Incomplete)
	fmt.Fprintf(w, "stacked\t%d\n", summary.Stacked)
	if verbose {
		fmt.Fprintln(w)
		for _, set := range result.ConfigurationSets() {
			fmt.Fprintf(w, "%s\t%s\n", result.Classify(set), set.Position())
		}
	}
	return w.Flush()
}

func newComputeCommand() *cobra.Command {
	var flags layerFlags
	var measure string
	var pairwise bool
	var tagset []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "compute user=path [user=path...]",
		Short: "Compute the agreement of several users on one layer feature",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.feature == "" {
				return fmt.Errorf("--feature is required")
			}
			if flags.layer == "" {
				return fmt.Errorf("--layer is required")
			}
			defs, err := flags.definitions()
			if err != nil {
				return err
			}
			registry, err := casdiff.NewRegistryFromDefinitions(defs...)
			if err != nil {
				return err
			}
			casByUser, err := loadDocuments(args)
			if err != nil {
				return err
			}

			reports, err := agreement.NewService(registry).Report(cmd.Context(), casByUser, agreement.ReportRequest{
				Layer:    flags.layer,
				Feature:  flags.feature,
				Measure:  measure,
				Pairwise: pairwise,
				Tagset:   tagset,
			})
			if err != nil {
				return err
			}
			report := reports[0]

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "measure\t%s\n", report.Measure)
			fmt.Fprintf(w, "agreement\t%s\n", formatScore(report.Agreement))
			fmt.Fprintf(w, "items\t%d\n", report.Study.Items)
			fmt.Fprintf(w, "categories\t%d\n", report.Study.Categories)
			for _, score := range report.Pairwise {
				fmt.Fprintf(w, "%s / %s\t%s\n", score.RaterA, score.RaterB, formatScore(score.Agreement))
			}
			return w.Flush()
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVarP(&measure, "measure", "m", agreement.MeasureKrippendorffAlphaNominal,
		"agreement measure: "+strings.Join(measureNames(), ", "))
	cmd.Flags().BoolVar(&pairwise, "pairwise", false, "compute the agreement of every pair of users")
	cmd.Flags().StringSliceVar(&tagset, "tagset", nil, "closed set of categories")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func measureNames() []string {
	names := agreement.MeasureNames()
	sort.Strings(names)
	return names
}

func formatScore(score *float64) string {
	if score == nil {
		return "undefined"
	}
	return fmt.Sprintf("%.4f", *score)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
