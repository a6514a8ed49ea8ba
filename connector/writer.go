package connector

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// writeRows is the real WriteRows target: a bulk load expressed as one
// multi-row INSERT executed over the session. A patch session replaces it
// with a direct write into the fake engine.
func writeRows(ctx context.Context, conn Conn, table string, columns []string, rows [][]any) (int, error) {
	if conn == nil {
		return 0, errors.New("connector: write rows: nil connection")
	}
	if strings.TrimSpace(table) == "" {
		return 0, errors.New("connector: write rows: empty table name")
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	if len(columns) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(columns, ", "))
		sb.WriteString(")")
	}
	sb.WriteString(" VALUES ")
	for i, row := range rows {
		if len(columns) > 0 && len(row) != len(columns) {
			return 0, fmt.Errorf("connector: write rows: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			lit, err := literal(v)
			if err != nil {
				return 0, fmt.Errorf("connector: write rows: row %d column %d: %w", i, j, err)
			}
			sb.WriteString(lit)
		}
		sb.WriteString(")")
	}

	if _, err := conn.Execute(ctx, sb.String()); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func literal(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if t {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'", nil
	case []byte:
		return "x'" + hex.EncodeToString(t) + "'", nil
	case int:
		return strconv.Itoa(t), nil
	case int32:
		return strconv.FormatInt(int64(t), 10), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case time.Time:
		return "'" + t.UTC().Format(time.RFC3339Nano) + "'", nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}
