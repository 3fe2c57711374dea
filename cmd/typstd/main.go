package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"typstd/internal/lsp"
)

// Version is set during the build via ldflags.
var Version = "(dev) v0.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listen       string
		root         string
		logFile      string
		verbosity    int
		packageCache string
		exportStore  string
	)

	rootCmd := &cobra.Command{
		Use:           "typstd",
		Short:         "Language server for Typst workspaces",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var path *string
			if logFile != "" {
				path = &logFile
			}
			commonlog.Configure(verbosity, path)

			srv, _ := lsp.NewServer(lsp.Config{
				Root:            root,
				PackageCacheDir: packageCache,
				ExportStorePath: exportStore,
			})
			if listen != "" {
				return srv.RunTCP(listen)
			}
			return srv.RunStdio()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&listen, "listen", "", "serve over TCP on this address instead of stdio")
	flags.StringVar(&root, "root", "", "workspace root used when the client sends none")
	flags.StringVar(&logFile, "log-output", "", "write logs to this file instead of stderr")
	flags.IntVarP(&verbosity, "verbose", "v", 1, "log verbosity")
	flags.StringVar(&packageCache, "package-cache", "", "directory for downloaded packages")
	flags.StringVar(&exportStore, "export-store", "", "sqlite file persisting unit exports across sessions")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(Version)
		},
	})
	return rootCmd
}
