package submission

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONMap is a free form object stored as a json column
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	return scanJSON(value, m)
}

func (JSONMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDataType(db)
}

// FileMap maps file names to file store ids
type FileMap map[string]string

func (m FileMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *FileMap) Scan(value any) error {
	return scanJSON(value, m)
}

func (FileMap) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	return jsonDataType(db)
}

func scanJSON(value any, v any) error {
	switch b := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(b, v)
	case string:
		return json.Unmarshal([]byte(b), v)
	default:
		return fmt.Errorf("type assertion to []byte failed while scanning %T", v)
	}
}

func jsonDataType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "mysql", "sqlite":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
