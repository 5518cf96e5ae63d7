package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/repository"
	"stockpos/internal/service"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	reconcileSince time.Duration
	reconcileJSON  bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Check the stock ledger against sales and the movement log",
	Long: "Read-only drift checks. Exits with status 2 when drift is found.\n" +
		"Without a subcommand both checks run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := bootReconciler()
		if err != nil {
			return err
		}
		report, err := rec.Run(cmd.Context(), time.Now().Add(-reconcileSince))
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), report, reconcileJSON)
	},
}

var reconcileSalesCmd = &cobra.Command{
	Use:   "sales",
	Short: "Compare each sale line with the stock reductions recorded for it",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := bootReconciler()
		if err != nil {
			return err
		}
		checked, drifts, err := rec.CheckSales(cmd.Context(), time.Now().Add(-reconcileSince))
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), &dto.ReconciliationReport{
			SalesChecked: checked,
			SaleDrifts:   drifts,
		}, reconcileJSON)
	},
}

var reconcileProductsCmd = &cobra.Command{
	Use:   "products",
	Short: "Replay each product's movement chain against its stock quantity",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := bootReconciler()
		if err != nil {
			return err
		}
		checked, drifts, err := rec.CheckProducts(cmd.Context())
		if err != nil {
			return err
		}
		return printReport(cmd.OutOrStdout(), &dto.ReconciliationReport{
			ProductsChecked: checked,
			ProductDrifts:   drifts,
		}, reconcileJSON)
	},
}

func init() {
	reconcileCmd.PersistentFlags().DurationVar(&reconcileSince, "since", 72*time.Hour, "how far back to check sales")
	reconcileCmd.PersistentFlags().BoolVar(&reconcileJSON, "json", false, "print the report as JSON")
	reconcileCmd.AddCommand(reconcileSalesCmd, reconcileProductsCmd)
}

func bootReconciler() (service.Reconciler, error) {
	_, db, err := bootDB()
	if err != nil {
		return nil, err
	}
	return newReconciler(db), nil
}

func newReconciler(db *gorm.DB) service.Reconciler {
	return service.NewReconciler(
		repository.NewSaleRepository(db),
		repository.NewProductRepository(db),
		repository.NewStockMovementRepository(db),
	)
}

// printReport writes the report and returns errDrift when it is not clean.
func printReport(w io.Writer, report *dto.ReconciliationReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		writeTables(w, report)
	}
	if !report.Clean() {
		return errDrift
	}
	return nil
}

func writeTables(w io.Writer, report *dto.ReconciliationReport) {
	fmt.Fprintf(w, "sales checked: %d, products checked: %d\n", report.SalesChecked, report.ProductsChecked)

	if len(report.SaleDrifts) > 0 {
		fmt.Fprintln(w, "\nSALE DRIFT")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "SALE\tPRODUCT\tSTATUS\tEXPECTED\tACTUAL\tROWS\tMULTIPLIER\tRESTORED")
		for _, d := range report.SaleDrifts {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%.2fx\t%d\n",
				d.SaleID, d.ProductID, d.Status, d.Expected, d.Actual, d.Rows, d.Multiplier, d.Restored)
		}
		tw.Flush()
	}

	if len(report.ProductDrifts) > 0 {
		fmt.Fprintln(w, "\nPRODUCT DRIFT")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PRODUCT\tNAME\tSTOCK\tLEDGER\tBREAKS\tMOVEMENTS")
		for _, d := range report.ProductDrifts {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
				d.ProductID, d.Name, d.StockQuantity, d.LedgerStock, d.ChainBreaks, d.Movements)
		}
		tw.Flush()
	}

	if report.Clean() {
		fmt.Fprintln(w, "no drift found")
	}
}
