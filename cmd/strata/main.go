// Command strata assembles cached build artifacts for a target component
// and its transitive dependencies.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/strata-build/strata/internal/catalogue"
	"github.com/strata-build/strata/internal/logging"
	"github.com/strata-build/strata/internal/metafile"
	"github.com/strata-build/strata/internal/sandbox"
	"github.com/strata-build/strata/internal/scheduler"
	"github.com/strata-build/strata/internal/strataconf"
)

var log = logging.New("strata")

func main() {
	if len(os.Args) > 1 && os.Args[1] == sandbox.InitArg {
		if err := sandbox.Init(); err != nil {
			fmt.Fprintln(os.Stderr, "strata: sandbox init:", err)
			os.Exit(1)
		}
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		workdir  string
		defsDir  string
		arch     string
		jobs     int
		cacheURL string
		kbasURL  string
		ccache   string
		noCCache bool
		verbose  bool
	)

	root := &cobra.Command{
		Use:   "strata",
		Short: "content-addressed build orchestrator",
	}
	root.PersistentFlags().StringVar(&workdir, "workdir", ".", "working directory (holds artifacts/, gits/, tmp/, assembly/)")
	root.PersistentFlags().StringVar(&defsDir, "definitions", "./definitions", "directory of component definition YAML files")
	root.PersistentFlags().StringVar(&arch, "arch", hostArch(), "target architecture")
	root.PersistentFlags().IntVar(&jobs, "instances", 1, "number of concurrent build workers")
	root.PersistentFlags().StringVar(&cacheURL, "cache-server-url", "", "remote tree-resolution cache server")
	root.PersistentFlags().StringVar(&kbasURL, "kbas-url", "", "remote artifact store base URL")
	root.PersistentFlags().StringVar(&ccache, "ccache-dir", "", "ccache directory to bind-mount into the sandbox")
	root.PersistentFlags().BoolVar(&noCCache, "no-ccache", false, "disable ccache bind-mount even if --ccache-dir is set")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	buildCmd := &cobra.Command{
		Use:   "build <component>",
		Short: "assemble a cached artifact for <component> and its dependencies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(verbose)

			cfg, err := strataconf.New(workdir, arch)
			if err != nil {
				return err
			}
			cfg.CacheServerURL = cacheURL
			cfg.KBASURL = kbasURL
			cfg.CCacheDir = ccache
			cfg.NoCCache = noCCache
			cfg.Instances = jobs
			cfg.LogVerbose = verbose

			cat, err := catalogue.LoadDir(defsDir)
			if err != nil {
				return fmt.Errorf("loading definitions: %w", err)
			}

			sched := scheduler.New(cfg, cat)
			sched.Meta = metafile.New(cfg.Artifacts)

			key, err := sched.Assemble(context.Background(), args[0])
			if err != nil {
				return err
			}
			log.Infof("%s -> %s", args[0], key)
			fmt.Println(key)
			return nil
		},
	}

	cacheKeyCmd := &cobra.Command{
		Use:   "cache-key <component>",
		Short: "print <component>'s cache key without building it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.SetVerbose(verbose)

			cfg, err := strataconf.New(workdir, arch)
			if err != nil {
				return err
			}
			cfg.CacheServerURL = cacheURL

			cat, err := catalogue.LoadDir(defsDir)
			if err != nil {
				return fmt.Errorf("loading definitions: %w", err)
			}

			sched := scheduler.New(cfg, cat)
			key, err := sched.Keys.CacheKey(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(key)
			return nil
		},
	}

	root.AddCommand(buildCmd, cacheKeyCmd)
	return root
}

func hostArch() string {
	if a := os.Getenv("STRATA_ARCH"); a != "" {
		return a
	}
	return "x86_64"
}
