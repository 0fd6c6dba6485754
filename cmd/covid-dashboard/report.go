package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coviddash/dashboard/internal/domain/dashboard"
	"github.com/coviddash/dashboard/internal/domain/patient"
)

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the summary metrics for a filter selection as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runPipeline(cmd, "cli-summary")
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	addCriteriaFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the filtered records as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runPipeline(cmd, "cli-export")
			if err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("output")
			if out == "" || out == "-" {
				return patient.WriteCSV(cmd.OutOrStdout(), report.View)
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create %s: %w", out, err)
			}
			if err := patient.WriteCSV(f, report.View); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d record(s) to %s\n", report.View.Len(), out)
			return nil
		},
	}
	addCriteriaFlags(cmd)
	cmd.Flags().StringP("output", "o", dashboard.ExportFilename, `Output file ("-" for stdout)`)
	return cmd
}

func addCriteriaFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("data", "", "CSV file to read (overrides DATA_FILE and DATA_SOURCE)")
	f.Int("age-min", dashboard.DefaultAgeMin, "Lowest age to include")
	f.Int("age-max", dashboard.DefaultAgeMax, "Highest age to include")
	f.StringSlice("gender", nil, "Genders to include: Male, Female (default all)")
	f.StringSlice("patient-type", nil, "Patient types to include (default all)")
	f.StringSlice("comorbidity", nil, "Require the flag to be recorded: diabetes, hypertension, obesity")
}

// criteriaQuery maps the flags that were set onto the query parameters the
// HTTP API accepts, so both surfaces share one parser.
func criteriaQuery(cmd *cobra.Command) url.Values {
	q := url.Values{}
	f := cmd.Flags()
	for flag, param := range map[string]string{"age-min": "age_min", "age-max": "age_max"} {
		if f.Changed(flag) {
			n, _ := f.GetInt(flag)
			q.Set(param, strconv.Itoa(n))
		}
	}
	for flag, param := range map[string]string{"gender": "gender", "patient-type": "patient_type", "comorbidity": "comorbidity"} {
		if f.Changed(flag) {
			vals, _ := f.GetStringSlice(flag)
			q[param] = vals
		}
	}
	return q
}

func runPipeline(cmd *cobra.Command, trigger string) (*dashboard.Report, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.IsDev())

	ctx := context.Background()
	var table *patient.Table
	if cfg.UsesDatabase() {
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		defer pool.Close()
		table, err = loadTable(ctx, cfg, pool, logger)
		if err != nil {
			return nil, err
		}
	} else {
		table, err = loadTable(ctx, cfg, nil, logger)
		if err != nil {
			return nil, err
		}
	}

	svc := dashboard.NewService(table, logger, nil)
	criteria, err := dashboard.ParseCriteria(criteriaQuery(cmd), svc.Defaults())
	if err != nil {
		return nil, err
	}
	return svc.Recompute(ctx, trigger, criteria)
}
