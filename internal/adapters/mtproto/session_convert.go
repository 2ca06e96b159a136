package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSessionFormat данные сессии не распознаны.
var ErrUnsupportedSessionFormat = errors.New("неподдерживаемый формат MTProto-сессии")

// telethonRow строка таблицы sessions из Telethon.
type telethonRow struct {
	DCID          int    `json:"dc_id"`
	ServerAddress string `json:"server_address"`
	Port          int    `json:"port"`
	AuthKey       string `json:"auth_key"`
}

var sessionConverters = []func([]byte) ([]byte, error){
	convertAccountJSON,
	convertRowsJSON,
	convertTelethonString,
}

// NormalizeSessionBytes приводит сессию к JSON-формату session.Storage из gotd.
// Понимает строковую сессию Telethon, JSON аккаунта с extra_params
// и выгрузку строк таблицы sessions. Второе значение сообщает, была ли конвертация.
func NormalizeSessionBytes(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, errors.New("пустая MTProto-сессия")
	}

	var native struct {
		Version int `json:"Version"`
	}
	if err := json.Unmarshal(trimmed, &native); err == nil && native.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}

	for _, convert := range sessionConverters {
		if converted, err := convert(trimmed); err == nil {
			return converted, true, nil
		}
	}
	return nil, false, ErrUnsupportedSessionFormat
}

func convertAccountJSON(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет extra_params")
	}
	return convertTelethonString([]byte(account.ExtraParams))
}

func convertRowsJSON(raw []byte) ([]byte, error) {
	var rows []telethonRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	return convertRows(rows)
}

// convertRows берёт первую пригодную строку.
func convertRows(rows []telethonRow) ([]byte, error) {
	for _, row := range rows {
		if row.AuthKey == "" || row.ServerAddress == "" || row.Port == 0 {
			continue
		}
		return encodeSessionData(row.DCID, row.ServerAddress, row.Port, row.AuthKey)
	}
	return nil, errors.New("в сессии нет пригодных строк")
}

func convertTelethonString(raw []byte) ([]byte, error) {
	candidate := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if candidate == "" {
		return nil, errors.New("пустая строковая сессия")
	}
	data, err := session.TelethonSession(candidate)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, portStr, err := net.SplitHostPort(data.Addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
			}
		}
	}
	return marshalSessionData(*data)
}

func encodeSessionData(dcID int, host string, port int, authKeyHex string) ([]byte, error) {
	authKeyHex = strings.Trim(strings.TrimSpace(authKeyHex), "'\"")
	if authKeyHex == "" {
		return nil, errors.New("пустой auth_key")
	}
	rawKey, err := hex.DecodeString(authKeyHex)
	if err != nil {
		return nil, fmt.Errorf("auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("auth_key длиной %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	return marshalSessionData(session.Data{
		Config: session.Config{
			ThisDC:    dcID,
			DCOptions: []tg.DCOption{{ID: dcID, IPAddress: host, Port: port}},
		},
		DC:        dcID,
		Addr:      net.JoinHostPort(host, strconv.Itoa(port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	})
}

func marshalSessionData(data session.Data) ([]byte, error) {
	return json.Marshal(struct {
		Version int          `json:"Version"`
		Data    session.Data `json:"Data"`
	}{Version: 1, Data: data})
}
