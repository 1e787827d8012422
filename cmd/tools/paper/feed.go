package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// tick is every price sharing one timestamp.
type tick struct {
	At     time.Time
	Prices map[string]decimal.Decimal
}

// readTicks parses timestamp,symbol,price rows. Consecutive rows with the
// same timestamp form one tick; timestamps must not go backwards. A leading
// header row is skipped.
func readTicks(r io.Reader) ([]tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var ticks []tick
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return ticks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		if line == 1 && strings.EqualFold(record[0], "timestamp") {
			continue
		}

		at, err := time.Parse(time.RFC3339Nano, record[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}
		symbol := strings.TrimSpace(record[1])
		if symbol == "" {
			return nil, fmt.Errorf("line %d: empty symbol", line)
		}
		price, err := decimal.NewFromString(record[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: price: %w", line, err)
		}
		at = at.UTC()

		n := len(ticks)
		switch {
		case n > 0 && at.Equal(ticks[n-1].At):
			ticks[n-1].Prices[symbol] = price
		case n > 0 && at.Before(ticks[n-1].At):
			return nil, fmt.Errorf("line %d: timestamp %s before %s", line, record[0], ticks[n-1].At.Format(time.RFC3339Nano))
		default:
			ticks = append(ticks, tick{At: at, Prices: map[string]decimal.Decimal{symbol: price}})
		}
	}
}
