// Package export renders location history as spreadsheets.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"fleettrack/internal/core/model"
)

const historySheet = "History"

var historyColumns = []struct {
	name  string
	width float64
}{
	{"Timestamp (UTC)", 22},
	{"Received (UTC)", 22},
	{"Latitude", 12},
	{"Longitude", 12},
	{"Speed (km/h)", 12},
	{"Address", 40},
	{"Source", 10},
	{"Stale", 8},
}

// WriteHistory writes entries for vehicle as an XLSX workbook, one row per entry.
func WriteHistory(w io.Writer, vehicle *model.Vehicle, entries []*model.HistoryEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return err
	}

	header := make([]interface{}, len(historyColumns))
	for i, col := range historyColumns {
		header[i] = col.name
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(historySheet, name, name, col.width); err != nil {
			return err
		}
	}
	if err := f.SetSheetRow(historySheet, "A1", &header); err != nil {
		return err
	}

	for i, e := range entries {
		row := []interface{}{
			e.Timestamp.UTC().Format(time.DateTime),
			e.ReceivedAt.UTC().Format(time.DateTime),
			e.Position.Lat,
			e.Position.Lng,
			e.SpeedKph,
			e.Address,
			e.Source,
			e.Stale,
		}
		if err := f.SetSheetRow(historySheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}

	props := &excelize.DocProperties{
		Title:   fmt.Sprintf("%s (%s) location history", vehicle.Name, vehicle.Plate),
		Subject: vehicle.IMEI,
		Creator: "fleettrack",
	}
	if err := f.SetDocProps(props); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}
