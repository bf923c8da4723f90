package database

import "time"

// StringEntry plain string value stored under a key
type StringEntry struct {
	Key       string    `json:"key" gorm:"column:name;primaryKey;size:255"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StringEntry) TableName() string { return "kv_strings" }

// HashEntry one field of a hash map stored under a key
type HashEntry struct {
	Key       string    `json:"key" gorm:"column:hash_key;primaryKey;size:255"`
	Field     string    `json:"field" gorm:"column:field;primaryKey;size:255"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (HashEntry) TableName() string { return "kv_hashes" }

// Well known keys written by the check-in sensor.
const (
	KeyBoneInfo      = "sys:bone:info"
	KeyNetworkInfo   = "sys:network:info"
	KeyServiceConfig = "bone:service:config"

	FieldDDNS     = "ddns"
	FieldPublicIP = "publicIp"
)
