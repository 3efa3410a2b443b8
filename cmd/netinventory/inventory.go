package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"netinventory/internal/codec"
	"netinventory/internal/domain"
	"netinventory/internal/logger"
)

var (
	exportFormat string
	exportSite   string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the inventory as JSON, YAML or an Ansible inventory",
	Example: `  netinventory export > devices.json
  netinventory export --format ansible --site Home -o inventory.yml`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

var (
	importFormat string
	importManual bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load devices from a JSON or YAML file into the registry",
	Long: `Import reads device records and upserts each into the registry, as if
discovery had observed them. Records without status are treated as Up and
records without device_group are classified from their ports and hostname.
With --manual, records are added as manual devices and existing keys are
reported as conflicts.`,
	Example: `  netinventory import devices.yml
  netinventory import --format json - < devices.json`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "json", "Output format ("+strings.Join(codec.Formats, ", ")+")")
	exportCmd.Flags().StringVar(&exportSite, "site", "", "Only devices of this site")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")

	importCmd.Flags().StringVarP(&importFormat, "format", "f", "", "Input format (json, yaml; default: from file extension)")
	importCmd.Flags().BoolVar(&importManual, "manual", false, "Add records as manual devices")
}

func runExport(cmd *cobra.Command, args []string) error {
	exporter, err := codec.ExporterFor(exportFormat)
	if err != nil {
		return err
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	devices, err := a.registry.ListDevices(cmd.Context(), domain.DeviceFilter{Site: exportSite})
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := exporter.Export(devices, w); err != nil {
		return fmt.Errorf("export %s: %w", exporter.Format(), err)
	}
	a.log.Debug("inventory exported", logger.Int("devices", len(devices)), logger.String("format", exporter.Format()))
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := importFormat
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}
	importer, err := codec.ImporterFor(format)
	if err != nil {
		return err
	}

	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	records, err := importer.Parse(r)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	upsert := a.registry.Upsert
	if importManual {
		upsert = a.registry.AddManual
	}

	now := time.Now().UTC()
	var failed int
	for _, rec := range records {
		if strings.TrimSpace(rec.Site) == "" {
			rec.Site = a.cfg.Site
		}
		if rec.ObservedAt.IsZero() {
			rec.ObservedAt = now
		}
		if rec.Status == "" {
			rec.Status = domain.StatusUp
		}
		if rec.DeviceGroup == "" {
			rec.DeviceGroup = domain.Classify(rec.OpenPorts, rec.Hostname)
		}
		if _, err := upsert(cmd.Context(), rec); err != nil {
			failed++
			a.log.Warn("record rejected",
				logger.String("address", rec.Address),
				logger.String("site", rec.Site),
				logger.Error(err))
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "imported %d of %d records\n", len(records)-failed, len(records))
	if failed > 0 {
		return fmt.Errorf("%d record(s) rejected", failed)
	}
	return nil
}
