package core_domain

// Feature toggles stored in the settings table. Producers consult them before enqueueing.
const (
	SettingOrdersEnabled = "orders_enabled"
	SettingAutoDMEnabled = "auto_dm_enabled"
)
