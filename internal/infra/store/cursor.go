package store

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"postroom/internal/common"
	"postroom/internal/domain/notification"
)

// pageKey is the keyset position of a record in report order
// (created_at, id). Cursors are base64 encoded page keys.
type pageKey struct {
	CreatedAt time.Time `json:"c"`
	ID        string    `json:"i"`
}

func encodeCursor(r *notification.Record) string {
	data, _ := json.Marshal(pageKey{CreatedAt: r.CreatedAt.UTC(), ID: r.ID})
	return base64.RawURLEncoding.EncodeToString(data)
}

// decodeCursor returns nil for the empty cursor.
func decodeCursor(cursor string) (*pageKey, error) {
	if cursor == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, common.NewValidationError("malformed cursor")
	}
	var k pageKey
	if err := json.Unmarshal(data, &k); err != nil || k.ID == "" {
		return nil, common.NewValidationError("malformed cursor")
	}
	return &k, nil
}

// after reports whether r sorts strictly after k.
func (k *pageKey) after(r *notification.Record) bool {
	if !r.CreatedAt.Equal(k.CreatedAt) {
		return r.CreatedAt.After(k.CreatedAt)
	}
	return r.ID > k.ID
}

func pageSize(f notification.ReportFilter) int {
	switch {
	case f.PageSize <= 0:
		return notification.DefaultReportPageSize
	case f.PageSize > notification.MaxReportPageSize:
		return notification.MaxReportPageSize
	}
	return f.PageSize
}

// trimPage cuts a fetch of size+1 rows down to size and returns the cursor
// for the next page, empty when there are no more rows.
func trimPage(records []*notification.Record, size int) ([]*notification.Record, string) {
	if len(records) <= size {
		return records, ""
	}
	records = records[:size]
	return records, encodeCursor(records[size-1])
}
