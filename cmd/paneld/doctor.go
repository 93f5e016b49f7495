package main

import (
	"github.com/spf13/cobra"

	"github.com/quasar-panel/paneld/internal/doctor"
	"github.com/quasar-panel/paneld/internal/output"
)

// DoctorReport is the JSON shape of `paneld doctor`.
type DoctorReport struct {
	Results []doctor.Result `json:"results"`
	doctor.Tally
}

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks to identify configuration and connectivity issues.

Checks performed:
  - Config file in use
  - Console device present and a character device
  - Panel identity stored
  - Console, mqtt, and upload daemon status
  - MQTT broker and FTP server reachability`,
		Example: `  paneld doctor
  paneld doctor --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			results := doctor.New(cfg).Run(cmd.Context())

			if out.JSON {
				return out.PrintJSON(DoctorReport{Results: results, Tally: doctor.Count(results)})
			}

			renderDoctor(out, results)

			return nil
		},
	}
}

func renderDoctor(out *output.Writer, results []doctor.Result) {
	out.Println("paneld doctor")
	out.Println("=============")
	out.Println()

	doctor.RenderResults(out, results)

	tally := doctor.Count(results)

	out.Println()
	out.Print("%d passed", tally.Passed)

	if tally.Failed > 0 {
		out.Print(", %d failed", tally.Failed)
	}

	if tally.Warnings > 0 {
		out.Print(", %d warning(s)", tally.Warnings)
	}

	out.Println()
}
