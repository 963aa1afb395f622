/*
Package boot declares application bootstrap sequences and keeps a pool of
worker processes at a target size.

An App is obtained from a Registry by name. Its methods queue stages that
run strictly in call order, even when a stage finishes asynchronously:

	reg := boot.NewRegistry(boot.Config{Logger: &logger})
	defer reg.Close(context.Background())

	app := reg.App("web").
		SetOption(boot.OptForkRespawn, true).
		MountDir("config", "config").
		MountValue("handlers.health", health).
		Scale(4).
		Run("handlers")

	if err := app.Wait(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap failed")
	}

MountDir scans a directory off the pipeline and mounts every .json, .toml
and .yaml file below a dotted mount point; the files are decoded on first
use. Run starts what is mounted at a path.

Scale sets the numForks option and queues a convergence stage. In the
control process the App's scaler spawns or terminates workers to match;
worker processes (started by the default cluster with GOBOOT_WORKER_ID
set) run the same program, and the convergence stage is skipped there.
With forkRespawn set, workers that exit unexpectedly are replaced, paced
by the respawnRate and respawnBurst options. Reconcile and FollowTargets
re-converge on a cron schedule or when a shared target changes.

Stage, scaling and option messages are logged at debug level and only
emitted while the App's debug option is true.
*/
package boot
