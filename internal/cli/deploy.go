package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dungeon-io/dungeon/internal/cloud"
	"github.com/dungeon-io/dungeon/internal/config"
	"github.com/dungeon-io/dungeon/internal/deploy"
	"github.com/dungeon-io/dungeon/internal/logging"
	"github.com/dungeon-io/dungeon/internal/programs"
	"github.com/dungeon-io/dungeon/internal/repair"
	"github.com/dungeon-io/dungeon/internal/session"
	"github.com/dungeon-io/dungeon/internal/stacks"
	"github.com/dungeon-io/dungeon/internal/state"
	"github.com/dungeon-io/dungeon/internal/workspace"
)

var (
	deployDestroy          bool
	deployDiff             bool
	deployExpectNoChanges  bool
	deployLogEvents        bool
	deployNonInteractive   bool
	deployRefresh          bool
	deployRemove           bool
	deployRepair           bool
	deploySkipPreview      bool
	deployTargets          []string
	deployTargetDependents bool
	deployUnprotect        bool
	deployYes              bool
	deploySkipPreflight    bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy <environment> [stacks]",
	Short: "Deploy the stacks of an environment",
	Long: `Preview and update the stacks of an environment in dependency order.

stacks is one of all (default), aws, bootstrap, vpc, eks or k8s. The mode flags
--destroy, --remove, --repair, --refresh and --unprotect replace the update;
destroy and remove walk the stacks in reverse order.`,
	Example: `  dungeon deploy prod
  dungeon deploy prod eks --diff
  dungeon deploy prod vpc --destroy --target vpc-subnet-1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runDeploy,
}

func init() {
	f := deployCmd.Flags()
	f.BoolVar(&deployDestroy, "destroy", false, "Destroy the stacks")
	f.BoolVar(&deployDiff, "diff", false, "Show a detailed diff of the changes")
	f.BoolVar(&deployExpectNoChanges, "expect-no-changes", false, "Fail when an update would change resources")
	f.BoolVar(&deployLogEvents, "log-events", false, "Write every engine event as a JSON line instead of the engine output")
	f.BoolVar(&deployNonInteractive, "non-interactive", false, "Never prompt; anything not approved with --yes is skipped")
	f.BoolVarP(&deployRefresh, "refresh", "r", false, "Refresh the stacks from the cloud")
	f.BoolVar(&deployRemove, "remove", false, "Remove the stacks and their (empty) state")
	f.BoolVar(&deployRepair, "repair", false, "Edit the stack state interactively")
	f.BoolVarP(&deploySkipPreview, "skip-preview", "f", false, "Update without a preview")
	f.StringSliceVar(&deployTargets, "target", nil, "Limit the operation to these resource URNs or names")
	f.BoolVar(&deployTargetDependents, "target-dependents", false, "Include the dependents of --target resources")
	f.BoolVar(&deployUnprotect, "unprotect", false, "Clear the protect flag of the stack resources")
	f.BoolVarP(&deployYes, "yes", "y", false, "Approve update, refresh and unprotect without asking")
	f.BoolVar(&deploySkipPreflight, "skip-preflight", false, "Skip the AWS account and deployer role checks")
}

// deployRequest maps the command line onto a deploy request.
func deployRequest(args []string, interactive bool) (deploy.Request, error) {
	id := stacks.All
	if len(args) > 1 {
		var err error
		if id, err = stacks.ParseID(args[1]); err != nil {
			return deploy.Request{}, err
		}
	}
	return deploy.Request{
		Environment:      args[0],
		Stacks:           id,
		Destroy:          deployDestroy,
		Remove:           deployRemove,
		Repair:           deployRepair,
		Refresh:          deployRefresh,
		Unprotect:        deployUnprotect,
		Targets:          deployTargets,
		TargetDependents: deployTargetDependents,
		Approve:          deployYes,
		NonInteractive:   deployNonInteractive || !interactive,
		SkipPreview:      deploySkipPreview,
		Diff:             deployDiff,
		ExpectNoChanges:  deployExpectNoChanges,
		LogEvents:        deployLogEvents,
	}, nil
}

// preflightChecks selects the AWS checks for the stacks of a run. Every stack
// but bootstrap runs as the deployer role.
func preflightChecks(ids []stacks.ID, mode deploy.Mode) cloud.Checks {
	var checks cloud.Checks
	for _, id := range ids {
		if id != stacks.Bootstrap {
			checks.DeployerRole = true
		}
		if mode != deploy.ModeUpdate {
			continue
		}
		switch id {
		case stacks.Vpc:
			checks.Network = true
		case stacks.Eks:
			checks.Addons = true
		}
	}
	return checks
}

func refreshPolicy(cfg *config.Config) deploy.RefreshPolicy {
	if cfg.Commands.Deploy.RefreshFailure == string(deploy.RefreshWarn) {
		return deploy.RefreshWarn
	}
	return deploy.RefreshHalt
}

func runDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := logging.Logger()

	req, err := deployRequest(args, logging.IsTerminal(os.Stdin))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx, req.Environment)
	if err != nil {
		return err
	}

	registry, err := programs.Registry()
	if err != nil {
		return err
	}

	backendCfg, err := state.ParseBackend(valueOr(cfg.Pulumi.BackendUrl))
	if err != nil {
		return err
	}
	backend, err := state.NewBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	if err := backend.Verify(ctx); err != nil {
		return fmt.Errorf("state backend %s: %w", backend.URL(), err)
	}

	if deploySkipPreflight {
		log.Warn("Skipping AWS preflight checks")
	} else {
		ids, err := registry.Order(req.Stacks, false)
		if err != nil {
			return err
		}
		awsCfg, err := cloud.LoadConfig(ctx, cfg.Environment.Aws.Region, cfg.Environment.Aws.Profile)
		if err != nil {
			return err
		}
		preflight := cloud.NewPreflight(awsCfg)
		preflight.Logger = log
		if err := preflight.Run(ctx, cfg.Environment, preflightChecks(ids, req.Mode())); err != nil {
			return err
		}
	}

	orchestrator := &deploy.Orchestrator{
		Registry: registry,
		Opener: &session.Opener{
			Workspace: workspace.NewPulumi(state.EnvVars(backend)),
			Config:    cfg,
			Plugins:   session.DefaultPlugins,
			Logger:    log,
		},
		Prompter: newPrompter(cmd.InOrStdin(), cmd.ErrOrStderr()),
		Repairer: &repair.Workflow{
			Editor: &repair.CommandEditor{Template: cfg.Commands.Deploy.Repair},
			Logger: log,
		},
		Logger:         log,
		Stdout:         cmd.OutOrStdout(),
		Stderr:         cmd.ErrOrStderr(),
		Color:          cfg.Pulumi.ColorOr("auto"),
		RefreshFailure: refreshPolicy(cfg),
	}

	done := logging.Elapsed(log, "Deployment finished", "environment", cfg.Environment.Name, "mode", req.Mode().String())
	result, err := orchestrator.Run(ctx, req)
	done()
	if err != nil {
		return err
	}
	if code := result.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

func valueOr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
