package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/spf13/cobra"

	"hydrotwin/internal/config"
	"hydrotwin/internal/cost"
	"hydrotwin/internal/diagnosis"
	"hydrotwin/internal/gis"
	"hydrotwin/internal/model"
)

var (
	configPath string

	severity   string
	strictMode bool

	weather      string
	featuresPath string

	powerKW  float64
	leakMode bool
	steps    int
)

var (
	rootCmd = &cobra.Command{
		Use:           "hydrotwin",
		Short:         "Water distribution digital twin",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run ingest listeners, the detection engine and the HTTP API",
		RunE:  runServe,
	}

	estimateCmd = &cobra.Command{
		Use:   "estimate",
		Short: "Price a leak repair from the BSR catalog",
		RunE:  runEstimate,
	}

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Filter satellite moisture anomalies against the weather condition",
		RunE:  runDiagnose,
	}

	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Step the pump and tank model at a fixed power",
		RunE:  runSimulate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON config file")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(estimateCmd)
	estimateCmd.Flags().StringVarP(&severity, "severity", "s", cost.DefaultSeverity, "Leak severity: small, medium or large")
	estimateCmd.Flags().BoolVar(&strictMode, "strict", false, "Reject unknown severities instead of pricing them as medium")

	rootCmd.AddCommand(diagnoseCmd)
	diagnoseCmd.Flags().StringVarP(&weather, "weather", "w", string(diagnosis.Clear), "Weather condition: CLEAR or RAIN")
	diagnoseCmd.Flags().StringVarP(&featuresPath, "features", "f", "", "GeoJSON anomaly file (defaults to the configured satellite file)")

	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().Float64VarP(&powerKW, "power", "p", 45, "Pump electrical power in kW")
	simulateCmd.Flags().BoolVar(&leakMode, "leak", false, "Simulate with an active leak")
	simulateCmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of simulation steps")

	rootCmd.AddCommand(versionCmd)
}

// loadManager returns a watching manager when a config file is given and a
// static default otherwise.
func loadManager() (*config.Manager, error) {
	if strings.TrimSpace(configPath) == "" {
		return config.NewStaticManager(config.DefaultConfig()), nil
	}
	return config.NewManager(config.ResolvePath(configPath))
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	if strictMode {
		est, err := cost.EstimateStrict(severity)
		if err != nil {
			return err
		}
		return printJSON(cmd, est)
	}
	return printJSON(cmd, cost.Estimate(severity))
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	path := featuresPath
	if path == "" {
		manager, err := loadManager()
		if err != nil {
			return err
		}
		path = manager.Get().Data.SatelliteGeoJSON
	}
	fc, err := gis.LoadFeatures(path)
	if err != nil {
		return err
	}
	res, err := diagnosis.DiagnoseRaw(weather, fc)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

type simulateStep struct {
	Step int `json:"step"`
	model.FlowResult
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if powerKW < 0 || math.IsNaN(powerKW) || math.IsInf(powerKW, 0) {
		return fmt.Errorf("power must be a finite non-negative number, got %v", powerKW)
	}
	if steps <= 0 {
		steps = 1
	}
	manager, err := loadManager()
	if err != nil {
		return err
	}
	sim := newSimulator(manager.Get())
	out := make([]simulateStep, 0, steps)
	for i := 1; i <= steps; i++ {
		out = append(out, simulateStep{Step: i, FlowResult: sim.Simulate(powerKW, leakMode)})
	}
	return printJSON(cmd, out)
}
