// Package device resolves a device id to its delivery and telemetry credentials.
package device

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	ErrNotFound     = errors.New("device not found in credential store")
	ErrMissingField = errors.New("required credential field is empty")
)

// Profile holds the per-device credentials read from the store.
type Profile struct {
	DeviceID            string
	NodeName            string
	ThingSpeakChannelID string
	ThingSpeakWriteKey  string
	DestinationID       string // remote folder id (rclone) or key prefix (s3)

	// Optional photo relay; both must be set for it to run.
	TelegramBotToken string
	TelegramChatID   string
	Notes            string
}

var requiredColumns = []string{"device_id", "thingspeak_write_key", "gdrive_folder_id"}

// Lookup reads the CSV credential store at path and returns the row for deviceID.
func Lookup(path, deviceID string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to open credential store: %w", err)
	}
	defer f.Close()

	return Parse(f, deviceID)
}

// Parse is Lookup over an already opened reader.
func Parse(r io.Reader, deviceID string) (Profile, error) {
	deviceID = strings.TrimSpace(deviceID)

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		return Profile{}, fmt.Errorf("failed to read credential store header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return Profile{}, fmt.Errorf("credential store missing column %q", col)
		}
	}

	field := func(row []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Profile{}, fmt.Errorf("failed to parse credential store: %w", err)
		}
		if field(row, "device_id") != deviceID {
			continue
		}

		p := Profile{
			DeviceID:            deviceID,
			NodeName:            field(row, "node_name"),
			ThingSpeakChannelID: field(row, "thingspeak_channel_id"),
			ThingSpeakWriteKey:  field(row, "thingspeak_write_key"),
			DestinationID:       field(row, "gdrive_folder_id"),
			TelegramBotToken:    field(row, "telegram_bot_token"),
			TelegramChatID:      field(row, "telegram_chat_id"),
			Notes:               field(row, "notes"),
		}
		if p.NodeName == "" {
			p.NodeName = deviceID
		}
		if p.ThingSpeakWriteKey == "" {
			return Profile{}, fmt.Errorf("%w: thingspeak_write_key for %s", ErrMissingField, deviceID)
		}
		if p.DestinationID == "" {
			return Profile{}, fmt.Errorf("%w: gdrive_folder_id for %s", ErrMissingField, deviceID)
		}
		return p, nil
	}

	return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, deviceID)
}
