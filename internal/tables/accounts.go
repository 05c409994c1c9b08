package tables

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// AccountsTable is the export name of the per-cell accounts table.
const AccountsTable = "soilloss_accounts"

// AccountsRow is one cell of a soil-loss accounts comparison. Cells valid in
// only one period carry a nil value for the other period and for the
// difference.
type AccountsRow struct {
	Row   int32    `parquet:"row"`
	Col   int32    `parquet:"col"`
	X     float64  `parquet:"x"`
	Y     float64  `parquet:"y"`
	LossA *float64 `parquet:"loss_a,optional"`
	LossB *float64 `parquet:"loss_b,optional"`
	Diff  *float64 `parquet:"diff,optional"`
}

// ParquetOutput is an encoded table with its checksum.
type ParquetOutput struct {
	Table    string
	Bytes    []byte
	Checksum string
	RowCount int64
}

// WriteAccounts encodes rows as a snappy-compressed parquet file.
func WriteAccounts(rows []AccountsRow) (*ParquetOutput, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[AccountsRow](&buf, parquet.Compression(&parquet.Snappy))
	if len(rows) > 0 {
		if _, err := w.Write(rows); err != nil {
			return nil, fmt.Errorf("write %s rows: %w", AccountsTable, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close %s writer: %w", AccountsTable, err)
	}

	data := buf.Bytes()
	return &ParquetOutput{
		Table:    AccountsTable,
		Bytes:    data,
		Checksum: ComputeChecksum(data),
		RowCount: int64(len(rows)),
	}, nil
}

// ReadAccounts decodes an accounts parquet file.
func ReadAccounts(data []byte) ([]AccountsRow, error) {
	rows, err := parquet.Read[AccountsRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", AccountsTable, err)
	}
	return rows, nil
}
