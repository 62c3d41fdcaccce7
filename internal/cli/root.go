package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/LJTian/TrendingVault/internal/app"
	"github.com/LJTian/TrendingVault/internal/config"
	"github.com/LJTian/TrendingVault/internal/logger"
	"github.com/spf13/cobra"
)

// RootOptions 所有子命令共用的全局参数
type RootOptions struct {
	ConfigPath string
	SQLitePath string
	Format     string
	Verbose    bool
}

var validFormats = []string{"text", "json"}

// NewRootCommand 创建 trendctl 根命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trendctl",
		Short: "Operate the trending snapshot service",
		Long:  "Collect trending items, build and prune snapshots, and inspect the latest published snapshot.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range validFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config (overrides TRENDING_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.SQLitePath, "sqlite", "", "use a local SQLite file instead of PostgreSQL")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging")

	cmd.AddCommand(NewCollectCommand(opts))
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewPruneCommand(opts))
	cmd.AddCommand(NewLatestCommand(opts))
	return cmd
}

func (o *RootOptions) open() (*app.Application, error) {
	if o.ConfigPath != "" {
		if err := os.Setenv("TRENDING_CONFIG", o.ConfigPath); err != nil {
			return nil, err
		}
	}
	cfg := config.Load()

	log := logger.Nop()
	if o.Verbose {
		l, err := logger.New("dev")
		if err != nil {
			return nil, err
		}
		log = l
	}
	return app.New(cfg, log, app.Options{SQLitePath: o.SQLitePath})
}

// print 按 --format 输出；text 模式交给 textFn
func (o *RootOptions) print(w io.Writer, v any, textFn func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	textFn(w)
	return nil
}
