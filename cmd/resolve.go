package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/sheet"
)

var (
	resolveStaticOnly bool
	resolveRefresh    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve the contact emails of a single website",
	Long:  "Runs the full two-tier resolution for one URL and prints the sorted JSON array of emails to stdout. Logs go to stderr, so the output pipes cleanly.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initResolver(ctx, resolverOpts{
			StaticOnly: resolveStaticOnly,
			Refresh:    resolveRefresh,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Resolver.Resolve(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "resolve")
		}

		zap.L().Info("resolution complete",
			zap.String("url", res.URL),
			zap.String("final_url", res.FinalURL),
			zap.String("tier", string(res.Tier)),
			zap.Int("emails", len(res.Emails)),
		)

		fmt.Println(sheet.FormatEmails(res.Emails))
		return nil
	},
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveStaticOnly, "static-only", false, "disable the browser render fallback")
	resolveCmd.Flags().BoolVar(&resolveRefresh, "refresh", false, "resolve even when freshly cached")
	rootCmd.AddCommand(resolveCmd)
}
