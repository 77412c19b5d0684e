package clix

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"soilscope/internal/models"
	"soilscope/internal/services"
	"soilscope/internal/store"
)

// ParseListFilter reads --limit, --offset and --status.
func ParseListFilter(flags *pflag.FlagSet) (store.ListFilter, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = store.DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	filter := store.ListFilter{Limit: limit, Offset: offset}

	statusStr, _ := flags.GetString("status")
	if statusStr = strings.TrimSpace(statusStr); statusStr != "" {
		status, err := models.ParseJobStatus(strings.ToLower(statusStr))
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	return filter, nil
}

// ParseSubmitParams reads --region (a GeoJSON file, or - for stdin), --name,
// --start and --end.
func ParseSubmitParams(flags *pflag.FlagSet) (services.SubmitParams, error) {
	regionPath, _ := flags.GetString("region")
	if regionPath == "" {
		return services.SubmitParams{}, fmt.Errorf("--region is required")
	}
	raw, err := readRegion(regionPath)
	if err != nil {
		return services.SubmitParams{}, err
	}

	startStr, _ := flags.GetString("start")
	endStr, _ := flags.GetString("end")
	if startStr == "" || endStr == "" {
		return services.SubmitParams{}, fmt.Errorf("--start and --end are required")
	}
	start, err := services.ParseDate(startStr)
	if err != nil {
		return services.SubmitParams{}, err
	}
	end, err := services.ParseDate(endStr)
	if err != nil {
		return services.SubmitParams{}, err
	}
	name, _ := flags.GetString("name")
	return services.SubmitParams{Region: raw, Name: name, Start: start, End: end}, nil
}

// AddSubmitFlags registers the flags ParseSubmitParams reads.
func AddSubmitFlags(flags *pflag.FlagSet) {
	flags.StringP("region", "r", "", "GeoJSON file with the region polygon (- for stdin)")
	flags.StringP("name", "n", "", "Region name (defaults to the feature's name property)")
	flags.String("start", time.Now().AddDate(0, -1, 0).Format(time.DateOnly), "Start date (YYYY-MM-DD)")
	flags.String("end", time.Now().Format(time.DateOnly), "End date (YYYY-MM-DD)")
}

func readRegion(path string) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read region %s: %w", path, err)
	}
	return raw, nil
}
