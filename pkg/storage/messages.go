package storage

import (
	"container/list"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/lestrrat-go/strftime"
)

// MessageCapacity bounds the stored-message ring.
const MessageCapacity = 50

// DefaultTimestampFormat is the strftime layout used when no caller-
// supplied layout is given, for human-readable log output.
const DefaultTimestampFormat = "%Y-%m-%d %H:%M:%S"

// StoredMessage is one entry in the message history ring.
type StoredMessage struct {
	Timestamp   time.Time
	Source      uint32
	Destination uint32
	Channel     byte
	Flags       byte
	RSSI        int16
	SNR         int8
	Text        string
}

// FormatTimestamp renders the message's timestamp using the given
// strftime layout (DefaultTimestampFormat if layout is empty).
func (m StoredMessage) FormatTimestamp(layout string) (string, error) {
	if layout == "" {
		layout = DefaultTimestampFormat
	}
	return strftime.Format(layout, m.Timestamp)
}

// MessageLog is a bounded FIFO of stored messages; the oldest entry is
// evicted once Capacity is reached, the same ring discipline as
// pkg/dtn's bundle table and pkg/sos's received log.
type MessageLog struct {
	entries *list.List
}

// NewMessageLog returns an empty message history ring.
func NewMessageLog() *MessageLog {
	return &MessageLog{entries: list.New()}
}

// Append records a message, evicting the oldest entry if at capacity.
func (l *MessageLog) Append(m StoredMessage) {
	if l.entries.Len() >= MessageCapacity {
		l.entries.Remove(l.entries.Front())
	}
	l.entries.PushBack(m)
}

// All returns the stored messages, oldest first.
func (l *MessageLog) All() []StoredMessage {
	out := make([]StoredMessage, 0, l.entries.Len())
	for e := l.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(StoredMessage))
	}
	return out
}

// Len reports the number of stored messages.
func (l *MessageLog) Len() int { return l.entries.Len() }

const messagesBlobName = "messages.csv"

var messageCSVHeader = []string{
	"unix_ts", "source", "destination", "channel", "flags", "rssi", "snr", "text",
}

// Save writes the message ring to the blob store as CSV, newest rows
// reflecting whatever survived the bounded-eviction policy.
func (l *MessageLog) Save(store BlobStore) error {
	w, err := store.OpenWrite(messagesBlobName)
	if err != nil {
		return err
	}
	defer w.Close()

	writer := csv.NewWriter(w)
	if err := writer.Write(messageCSVHeader); err != nil {
		return err
	}
	for _, m := range l.All() {
		row := []string{
			strconv.FormatInt(m.Timestamp.Unix(), 10),
			strconv.FormatUint(uint64(m.Source), 10),
			strconv.FormatUint(uint64(m.Destination), 10),
			strconv.FormatUint(uint64(m.Channel), 10),
			strconv.FormatUint(uint64(m.Flags), 10),
			strconv.FormatInt(int64(m.RSSI), 10),
			strconv.FormatInt(int64(m.SNR), 10),
			m.Text,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// LoadMessages reads a previously-saved message ring back from the
// blob store. A missing blob is not an error: it returns an empty log.
func LoadMessages(store BlobStore) (*MessageLog, error) {
	l := NewMessageLog()
	if !store.Exists(messagesBlobName) {
		return l, nil
	}
	r, err := store.OpenRead(messagesBlobName)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	rows, err := csv.NewReader(r).ReadAll()
	if err != nil && err != io.EOF {
		return nil, err
	}
	for i, row := range rows {
		if i == 0 || len(row) != len(messageCSVHeader) {
			continue
		}
		m, err := parseStoredMessageRow(row)
		if err != nil {
			return nil, fmt.Errorf("storage: malformed row %d in %s: %w", i, messagesBlobName, err)
		}
		l.Append(m)
	}
	return l, nil
}

func parseStoredMessageRow(row []string) (StoredMessage, error) {
	unixTS, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return StoredMessage{}, err
	}
	source, err := strconv.ParseUint(row[1], 10, 32)
	if err != nil {
		return StoredMessage{}, err
	}
	dest, err := strconv.ParseUint(row[2], 10, 32)
	if err != nil {
		return StoredMessage{}, err
	}
	channel, err := strconv.ParseUint(row[3], 10, 8)
	if err != nil {
		return StoredMessage{}, err
	}
	flags, err := strconv.ParseUint(row[4], 10, 8)
	if err != nil {
		return StoredMessage{}, err
	}
	rssi, err := strconv.ParseInt(row[5], 10, 16)
	if err != nil {
		return StoredMessage{}, err
	}
	snr, err := strconv.ParseInt(row[6], 10, 8)
	if err != nil {
		return StoredMessage{}, err
	}
	return StoredMessage{
		Timestamp:   time.Unix(unixTS, 0).UTC(),
		Source:      uint32(source),
		Destination: uint32(dest),
		Channel:     byte(channel),
		Flags:       byte(flags),
		RSSI:        int16(rssi),
		SNR:         int8(snr),
		Text:        row[7],
	}, nil
}
