package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/pinup/internal/app"
	"github.com/bnema/pinup/internal/domain"
	"github.com/bnema/pinup/internal/usecase/update"
)

// newRunCmd creates the run command.
func newRunCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run [compose-file...]",
		Short: "Pin changed images and redeploy their projects",
		Long: `Resolve every service image of the given compose files, or of the
configured or discovered projects when none are given. Projects with new
digests are pulled, torn down, rewritten and brought back up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, opts, args, false)
		},
	}
}

// newCheckCmd creates the check command.
func newCheckCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check [compose-file...]",
		Short: "Show which services would be pinned without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd, opts, args, true)
		},
	}
}

// newResolveCmd creates the resolve command.
func newResolveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <image>",
		Short: "Print the digest an image tag currently points to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(opts.appOptions(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			ref := domain.ParseReference(args[0])
			if ref.RepoPath == "" {
				return fmt.Errorf("invalid image reference %q", args[0])
			}

			digest, err := a.Resolver.Resolve(a.Context(cmd.Context()), ref.Name(), ref.EffectiveTag())
			if err != nil {
				return err
			}
			return cliWriteLine(cmd.OutOrStdout(), digest)
		},
	}
}

func runUpdate(cmd *cobra.Command, opts *globalOptions, args []string, dryRun bool) error {
	a, err := app.New(opts.appOptions(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeApp(a)

	ctx := a.Context(cmd.Context())
	files := args
	if len(files) == 0 {
		files = a.Config.Projects
	}

	var svc *update.Service
	if dryRun && len(files) > 0 {
		svc = a.CheckService()
	} else if svc, err = a.UpdateService(ctx); err != nil {
		return err
	}

	var report domain.RunReport
	if dryRun {
		report, err = svc.Check(ctx, files)
	} else {
		report, err = svc.Run(ctx, files)
	}

	if len(report.Projects) > 0 {
		if werr := renderReport(cmd.OutOrStdout(), report, dryRun); werr != nil {
			return werr
		}
	}

	if err != nil {
		return err
	}
	if report.HasFailures() {
		return errProjectsFailed
	}
	return nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Log.Warn().Err(err).Msg("failed to release resources")
	}
}
