package main

import (
	"context"

	"github.com/spf13/cobra"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/paths"
	"github.com/quasar-panel/paneld/internal/uploader"
)

func newUploadCmd() *cobra.Command {
	return newDaemonCmd(daemonDef{
		name:  paths.DaemonUpload,
		short: "Manage the log upload daemon",
		long: `The upload daemon sends panel log files to an FTP server. An upload is
requested by creating upload.trigger_file, which the mqtt daemon does when
it receives push_log.`,
		runLong: `Run the log uploader in the foreground.

Every upload.poll_interval the uploader checks for the trigger file. When it
exists, files matching upload.patterns are stored under
upload.remote_dir/<panel id> and the trigger is removed. A failed session
keeps the trigger so the next poll retries.`,
		run: runUpload,
	})
}

func runUpload(ctx context.Context, env *daemonEnv) error {
	cfg := env.cfg

	if cfg.UploadHost() == "" {
		return clierrors.ConfigMissing("upload.host")
	}

	ctx, cancel := env.flag.Context(ctx)
	defer cancel()

	panelID, err := waitIdentity(ctx, env)
	if err != nil || panelID == "" {
		return err
	}

	up := uploader.New(uploader.Config{
		Host:         cfg.UploadHost(),
		Port:         cfg.UploadPort(),
		User:         cfg.UploadUser(),
		Password:     cfg.UploadPassword(),
		RemoteDir:    cfg.UploadRemoteDir(),
		Patterns:     cfg.UploadPatterns(),
		TriggerFile:  cfg.TriggerFile(),
		PollInterval: cfg.UploadPollInterval(),
		DeleteAfter:  cfg.UploadDeleteAfter(),
		PanelID:      panelID,
	}, nil, env.logger.With("panel.id", panelID))

	return up.Run(ctx)
}
