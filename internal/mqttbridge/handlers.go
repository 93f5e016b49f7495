package mqttbridge

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/quasar-panel/paneld/internal/atomicfile"
)

// CommandStarter launches an external command without waiting for it.
type CommandStarter func(ctx context.Context, argv []string, env []string) (pid int, err error)

// PushLogHandler writes the upload trigger file with the current unix time.
// The uploader notices the file on its next poll.
func PushLogHandler(triggerFile string, now func() time.Time) Handler {
	if now == nil {
		now = time.Now
	}

	return func(_ context.Context, _ Message) error {
		stamp := strconv.FormatFloat(float64(now().UnixNano())/1e9, 'f', 6, 64)
		if err := atomicfile.Write(triggerFile, []byte(stamp), 0o644); err != nil {
			return fmt.Errorf("write upload trigger: %w", err)
		}

		return nil
	}
}

// OpenVPNHandler starts the configured VPN command. The message payload is
// passed through PANELD_VPN_PAYLOAD. With no command configured the request
// is logged and ignored.
func OpenVPNHandler(command []string, start CommandStarter, logger *slog.Logger) Handler {
	if start == nil {
		start = StartDetached(logger)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(ctx context.Context, msg Message) error {
		if len(command) == 0 {
			logger.Warn("open_vpn requested but mqtt.open_vpn_command is not set")
			return nil
		}

		pid, err := start(ctx, command, []string{"PANELD_VPN_PAYLOAD=" + string(msg.Payload)})
		if err != nil {
			return fmt.Errorf("start vpn command %q: %w", command[0], err)
		}

		logger.Info("vpn command started", slog.String("command", command[0]), slog.Int("pid", pid))

		return nil
	}
}

// DefaultRoutes wires push_log and open_vpn.
func DefaultRoutes(triggerFile string, vpnCommand []string, logger *slog.Logger) Routes {
	return Routes{
		CmdPushLog: PushLogHandler(triggerFile, nil),
		CmdOpenVPN: OpenVPNHandler(vpnCommand, nil, logger),
	}
}

// StartDetached runs argv in the background and logs its exit.
func StartDetached(logger *slog.Logger) CommandStarter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return func(_ context.Context, argv []string, env []string) (int, error) {
		// The VPN outlives the message that asked for it, so it is not bound
		// to the dispatch context.
		cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // operator-configured command
		cmd.Env = append(cmd.Environ(), env...)

		if err := cmd.Start(); err != nil {
			return 0, err
		}

		go func() {
			err := cmd.Wait()

			attrs := []any{slog.String("command", argv[0]), slog.Int("pid", cmd.Process.Pid)}
			if err != nil {
				logger.Warn("vpn command exited", append(attrs, slog.String("error", err.Error()))...)
				return
			}

			logger.Info("vpn command exited", attrs...)
		}()

		return cmd.Process.Pid, nil
	}
}
