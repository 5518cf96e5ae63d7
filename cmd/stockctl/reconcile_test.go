package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"stockpos/internal/dto"
	"stockpos/internal/model"
	"stockpos/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintReport_Clean(t *testing.T) {
	var buf bytes.Buffer
	err := printReport(&buf, &dto.ReconciliationReport{SalesChecked: 4, ProductsChecked: 2}, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "sales checked: 4, products checked: 2")
	assert.Contains(t, buf.String(), "no drift found")
}

func TestPrintReport_DriftTable(t *testing.T) {
	report := &dto.ReconciliationReport{
		SalesChecked: 1,
		SaleDrifts: []dto.SaleDrift{{
			SaleID: "s-1", ProductID: "p-1", Expected: 3, Actual: 6, Rows: 2, Multiplier: 2, Status: "over",
		}},
	}
	var buf bytes.Buffer
	err := printReport(&buf, report, false)
	assert.ErrorIs(t, err, errDrift)
	assert.Contains(t, buf.String(), "SALE DRIFT")
	assert.Contains(t, buf.String(), "2.00x")
	assert.NotContains(t, buf.String(), "PRODUCT DRIFT")
}

func TestPrintReport_JSON(t *testing.T) {
	report := &dto.ReconciliationReport{
		ProductsChecked: 1,
		ProductDrifts:   []dto.ProductDrift{{ProductID: "p-1", Name: "Pilha", StockQuantity: 50, LedgerStock: 15}},
	}
	var buf bytes.Buffer
	err := printReport(&buf, report, true)
	assert.ErrorIs(t, err, errDrift)

	var decoded dto.ReconciliationReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, report.ProductDrifts, decoded.ProductDrifts)
}

func TestReconciler_AgainstDatabase(t *testing.T) {
	db := testutil.NewDB(t)
	p := testutil.SeedProduct(t, db, "Vela", 10, 0)
	sale := model.Sale{
		OperatorID: uuid.New(), Status: model.SaleStatusCompleted,
		PaymentMethod: "pix", PaymentStatus: model.PaymentStatusPaid,
		Items: []model.SaleItem{{LineNo: 1, ProductID: p.ID, Quantity: 2}},
	}
	require.NoError(t, db.Create(&sale).Error)

	report, err := newReconciler(db).Run(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)

	var buf bytes.Buffer
	assert.ErrorIs(t, printReport(&buf, report, false), errDrift)
	assert.Contains(t, buf.String(), "missing")
}
