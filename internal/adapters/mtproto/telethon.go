package mtproto

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

var sqliteHeader = []byte("SQLite format 3\x00")

// IsSQLite сообщает, похожи ли данные на файл SQLite.
func IsSQLite(raw []byte) bool {
	return bytes.HasPrefix(raw, sqliteHeader)
}

// ReadTelethonSQLite читает таблицу sessions файла Telethon и возвращает сессию gotd.
func ReadTelethonSQLite(ctx context.Context, db *sql.DB) ([]byte, error) {
	rows, err := db.QueryContext(ctx, `SELECT dc_id, server_address, port, auth_key FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("чтение sessions: %w", err)
	}
	defer rows.Close()

	var parsed []telethonRow
	for rows.Next() {
		var (
			row  telethonRow
			addr sql.NullString
			key  []byte
		)
		if err := rows.Scan(&row.DCID, &addr, &row.Port, &key); err != nil {
			return nil, err
		}
		row.ServerAddress = addr.String
		row.AuthKey = hex.EncodeToString(key)
		parsed = append(parsed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return convertRows(parsed)
}

// LoadSessionFile читает сессию из файла любого поддерживаемого формата.
func LoadSessionFile(ctx context.Context, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !IsSQLite(raw) {
		data, _, err := NormalizeSessionBytes(raw)
		return data, err
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return ReadTelethonSQLite(ctx, db)
}
