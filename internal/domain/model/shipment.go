package model

import "time"

type ShipmentStatus string

const (
	ShipmentStatusPending ShipmentStatus = "PENDING"
)

type Shipment struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64          `gorm:"not null;uniqueIndex" json:"order_id"`
	AddressID int64          `gorm:"not null" json:"address_id"`
	Status    ShipmentStatus `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
