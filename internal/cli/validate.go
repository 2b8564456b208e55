package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	var scenarioPath string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config, catalogs and an optional scenario",
		Long: `Validate loads the configuration and every catalog, registering each
blueprint exactly as run would, and reports the blueprint counts. With
--scenario it also composes the scenario once to check component types and
property overrides.`,
		Example: `  threatforge validate --catalog ./catalogs
  threatforge validate --config threatforge.yaml --scenario swarm.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			catalogs, err := loadCatalogs(logger, cfg.Catalog)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sources := make([]string, 0, len(catalogs.loaded))
			for src := range catalogs.loaded {
				sources = append(sources, src)
			}
			sort.Strings(sources)
			for _, src := range sources {
				fmt.Fprintf(out, "%-40s %d blueprints\n", src, catalogs.loaded[src])
			}
			fmt.Fprintf(out, "%d component types registered\n", catalogs.registry.Len())

			if scenarioPath == "" {
				return nil
			}
			scenario, err := LoadScenario(scenarioPath)
			if err != nil {
				return err
			}
			if err := checkScenario(logger, catalogs, scenario); err != nil {
				return err
			}
			fmt.Fprintf(out, "scenario %s: %d threats OK\n", scenario.Name, len(scenario.Expand(1)))
			return nil
		},
	}

	cmd.Flags().StringVar(&scenarioPath, "scenario", "", "scenario file to check against the catalogs")
	return cmd
}

// checkScenario composes each template once against the loaded registry.
func checkScenario(logger *zap.Logger, catalogs *catalogSet, scenario *Scenario) error {
	for i, tpl := range scenario.Threats {
		for j, spec := range tpl.Components {
			if _, err := catalogs.registry.Instantiate(spec.Type, spec.Properties); err != nil {
				return fmt.Errorf("threat %d (%s) component %d: %w", i, tpl.Name, j, err)
			}
		}
		logger.Debug("Scenario threat valid", zap.String("threat", tpl.Name), zap.Int("components", len(tpl.Components)))
	}
	return nil
}
