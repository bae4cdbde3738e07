package main

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hackscraper/hackscraper/internal/model"
	"github.com/hackscraper/hackscraper/internal/store"
	"github.com/hackscraper/hackscraper/internal/strategy"
)

// seedFile is the YAML layout accepted by import:
//
//	sources:
//	  - url: https://devpost.com/hackathons
//	    kind: aggregator
//	  - url: https://hackzurich.com
//	    strategy: llm
type seedFile struct {
	Sources []seedSource `yaml:"sources"`
}

type seedSource struct {
	URL      string `yaml:"url"`
	Kind     string `yaml:"kind"`
	Strategy string `yaml:"strategy"`
}

var importCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Register sources from a YAML seed file, skipping known URLs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open seed file")
		}
		defer f.Close() //nolint:errcheck

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		created, skipped, err := importSources(ctx, env.Store, env.Table, cfg.Reconcile.DefaultStrategy, f)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.Int("created", created),
			zap.Int("skipped", skipped),
			zap.String("file", args[0]),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

// importSources validates every entry before writing any, then creates
// them one by one. URLs that are already registered count as skipped.
func importSources(ctx context.Context, st store.Store, table *strategy.Table, defaultStrategy string, r io.Reader) (created, skipped int, err error) {
	var seed seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
		return 0, 0, eris.Wrap(err, "parse seed file")
	}

	sources := make([]model.Source, 0, len(seed.Sources))
	for i, s := range seed.Sources {
		src := model.Source{
			URL:        strings.TrimSpace(s.URL),
			Kind:       model.KindDirect,
			StrategyID: defaultStrategy,
		}
		if src.URL == "" {
			return 0, 0, eris.Errorf("entry %d: url is required", i+1)
		}
		if s.Kind != "" {
			if src.Kind, err = model.ParseSourceKind(s.Kind); err != nil {
				return 0, 0, eris.Wrapf(err, "entry %d", i+1)
			}
		}
		if s.Strategy != "" {
			src.StrategyID = s.Strategy
		}
		if !table.Has(src.Kind, src.StrategyID) {
			return 0, 0, eris.Wrapf(&strategy.ConfigurationError{Kind: src.Kind, StrategyID: src.StrategyID}, "entry %d", i+1)
		}
		sources = append(sources, src)
	}

	for i := range sources {
		err := st.CreateSource(ctx, &sources[i])
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrConflict):
			skipped++
		default:
			return created, skipped, err
		}
	}
	return created, skipped, nil
}
