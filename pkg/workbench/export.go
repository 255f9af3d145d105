package workbench

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Recommendations"

var exportHeader = []string{
	"rec_id", "sku", "sku_id", "location", "shortage_date", "recommended_qty", "supplier",
	"safety_stock", "on_hand", "inbound", "forecast_gap", "reason", "status",
}

func exportRow(r Recommendation) []any {
	return []any{
		r.RecID, r.SKU, r.SKUID, r.Location, r.ShortageDate, r.RecommendedQty, r.Supplier,
		r.SafetyStock, r.OnHand, r.Inbound, r.ForecastGap, r.Reason, r.Display(),
	}
}

func ExportCSV(w io.Writer, recs []Recommendation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return errors.Wrap(err, "write csv header")
	}
	for _, r := range recs {
		row := exportRow(r)
		cells := make([]string, len(row))
		for i, v := range row {
			switch x := v.(type) {
			case int:
				cells[i] = strconv.Itoa(x)
			case string:
				cells[i] = x
			}
		}
		if err := cw.Write(cells); err != nil {
			return errors.Wrapf(err, "write csv row %s", r.RecID)
		}
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "flush csv")
}

func ExportXLSX(w io.Writer, recs []Recommendation) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return errors.Wrap(err, "rename sheet")
	}
	header := make([]any, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return errors.Wrap(err, "write xlsx header")
	}
	for i, r := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := exportRow(r)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return errors.Wrapf(err, "write xlsx row %s", r.RecID)
		}
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return errors.Wrap(err, "freeze header")
	}
	if _, err := f.WriteTo(w); err != nil {
		return errors.Wrap(err, "write xlsx")
	}
	return nil
}
