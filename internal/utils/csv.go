package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"mtrade/internal/domain"
)

// WriteBarsCSV exports bars to a CSV file with an RFC3339 time column,
// suitable for inspection in a spreadsheet or notebook.
func WriteBarsCSV(bars []domain.Bar, symbol, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{"open_time", "close_time", "symbol", "open", "high", "low", "close", "volume", "trades"})

	for _, b := range bars {
		writer.Write([]string{
			b.OpenTime.Format(time.RFC3339),
			b.CloseTime.Format(time.RFC3339),
			symbol,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
			strconv.FormatInt(b.Trades, 10),
		})
	}
	return writer.Error()
}
