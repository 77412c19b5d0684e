package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"soilscope/internal/models"
)

func formatStat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// printResult renders prediction statistics and artefact paths.
func printResult(res *models.ResultBundle, outputDir string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Target", "Unit", "Min", "Mean", "Max", "Std", "Model"})
	table.SetBorder(true)
	for _, p := range []models.PredictionResult{res.SOC, res.Moisture} {
		table.Append([]string{
			string(p.Target),
			p.Unit,
			formatStat(p.Stats.Min),
			formatStat(p.Stats.Mean),
			formatStat(p.Stats.Max),
			formatStat(p.Stats.Std),
			p.ModelVersion,
		})
	}
	table.Render()

	fmt.Printf("Report:       %s\n", filepath.Join(outputDir, res.Report.ReportKey))
	if res.Report.SOCMapKey != "" {
		fmt.Printf("SOC map:      %s\n", filepath.Join(outputDir, res.Report.SOCMapKey))
	}
	if res.Report.MoistureMapKey != "" {
		fmt.Printf("Moisture map: %s\n", filepath.Join(outputDir, res.Report.MoistureMapKey))
	}
}
