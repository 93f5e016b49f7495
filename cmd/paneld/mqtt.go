package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	clierrors "github.com/quasar-panel/paneld/internal/errors"
	"github.com/quasar-panel/paneld/internal/mqttbridge"
	"github.com/quasar-panel/paneld/internal/paths"
)

func newMQTTCmd() *cobra.Command {
	return newDaemonCmd(daemonDef{
		name:  paths.DaemonMQTT,
		short: "Manage the MQTT bridge daemon",
		long: `The mqtt daemon keeps the panel connected to the remote broker. It
publishes the panel status on from_panel/<id>/status and executes commands
received on to_panel/<id>/cmds/<command> (push_log, open_vpn).`,
		runLong: `Run the MQTT bridge in the foreground.

The bridge waits for the console daemon to store the panel identity, connects
with that identity as the client id, and serves commands until it is stopped.
On a clean stop it publishes "offline"; otherwise the broker publishes the
retained last will.`,
		run: runMQTT,
	})
}

func runMQTT(ctx context.Context, env *daemonEnv) error {
	cfg := env.cfg

	if cfg.MQTTHost() == "" {
		return clierrors.ConfigMissing("mqtt_broker.host")
	}

	ctx, cancel := env.flag.Context(ctx)
	defer cancel()

	panelID, err := waitIdentity(ctx, env)
	if err != nil || panelID == "" {
		return err
	}

	brokerCfg := mqttbridge.Config{
		Host:     cfg.MQTTHost(),
		Port:     cfg.MQTTPort(),
		User:     cfg.MQTTUser(),
		Password: cfg.MQTTPassword(),
		PanelID:  panelID,
	}

	logger := env.logger.With("panel.id", panelID)
	broker := mqttbridge.NewPahoBroker(brokerCfg, logger)
	routes := mqttbridge.DefaultRoutes(cfg.TriggerFile(), cfg.OpenVPNCommand(), logger)

	if err := mqttbridge.New(panelID, broker, routes, logger).Run(ctx); err != nil {
		if errors.Is(err, mqttbridge.ErrConnect) {
			if env.flag.Requested() {
				return nil
			}

			return clierrors.BrokerConnectFailed(brokerCfg.Address(), err)
		}

		return err
	}

	return nil
}
