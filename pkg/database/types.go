package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringArray stores a string list as a JSON text column on every driver.
type StringArray []string

// Scan implements the sql.Scanner interface.
func (a *StringArray) Scan(value interface{}) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("StringArray: unsupported scan type %T", value)
	}

	if len(data) == 0 {
		*a = StringArray{}
		return nil
	}
	return json.Unmarshal(data, a)
}

// Value implements the driver.Valuer interface. Nil is stored as an empty list.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (StringArray) GormDataType() string {
	return "text"
}
