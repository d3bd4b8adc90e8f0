package model

import (
	"time"

	"gorm.io/datatypes"
)

// Configuration is one clinic setting. Value holds any JSON document.
type Configuration struct {
	Key       string         `gorm:"column:config_key;type:varchar(64);primaryKey" json:"key"`
	Value     datatypes.JSON `json:"value"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// PublicSettingKeys may be read by any signed-in role.
var PublicSettingKeys = map[string]bool{
	"workingDays":       true,
	"workingHoursStart": true,
	"workingHoursEnd":   true,
}
