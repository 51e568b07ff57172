package domain

// ProxySetting is one key/value pair of the dynamic proxy configuration
// (target CSMS URL, forwarding flag, auto-charge flag, default idTag).
type ProxySetting struct {
	Key   string `json:"key" gorm:"primaryKey"`
	Value string `json:"value"`
}

func (ProxySetting) TableName() string {
	return "proxy_settings"
}
