// Package main provides the scmem CLI entry point.
package main

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/config"
	"github.com/RuslanKorshunov/sc-machine-ostis-ai/pkg/memory"
)

var version = "0.1.0"

var (
	flagConfig string
	flagRepo   string
	flagClear  bool
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromFile(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagRepo != "" {
		cfg.RepoPath = flagRepo
	}
	if flagClear {
		cfg.Clear = true
	}
	// CLI runs are one-shot; the background timers only matter for servers.
	cfg.SavePeriod = 0
	cfg.UpdatePeriod = 0
	return cfg, nil
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "scmem",
		Short: "scmem - semantic graph memory storage",
		Long: `scmem manages an sc-memory repository: a segmented store of graph
elements (nodes, links, arcs) with link content kept in a local content
store. SCs source files lower to triples and are written into the image.`,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "scmem.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "repository path (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&flagClear, "clear", false, "start from an empty image")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scmem %s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "load [file.scs ...]",
		Short: "Parse SCs sources and write them into the repository",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runLoad,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print element statistics for the repository",
		RunE:  runStats,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Rewrite the segmented image from the loaded repository",
		RunE:  runSave,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := memory.Initialize(cfg)
	if err != nil {
		return err
	}
	defer m.Shutdown(false)

	// Sources load in parallel, bounded by the configured thread count.
	// Each worker gets its own context so allocation stays on the fast path.
	workers := cfg.MaxThreads
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	errs := make(chan error, len(args))
	var wg sync.WaitGroup

	for _, path := range args {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			ctx := m.NewContext()
			defer ctx.Close()

			text, err := os.ReadFile(path)
			if err != nil {
				errs <- err
				return
			}
			named, err := ctx.GenerateFromSCs(string(text))
			if err != nil {
				errs <- fmt.Errorf("%s: %w", path, err)
				return
			}
			fmt.Printf("%s: %d named element(s)\n", path, len(named))
		}(path)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		return err
	}

	return m.Save()
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := memory.Initialize(cfg)
	if err != nil {
		return err
	}
	defer m.Shutdown(false)

	st := m.Stat()
	fmt.Printf("nodes: %d\nlinks: %d\narcs:  %d\nfree:  %d\n",
		st.NodeCount, st.LinkCount, st.ArcCount, st.FreeCount)
	return nil
}

func runSave(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	m, err := memory.Initialize(cfg)
	if err != nil {
		return err
	}
	defer m.Shutdown(false)
	return m.Save()
}
