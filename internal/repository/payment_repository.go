package repository

import (
	"context"

	"ec-checkout/internal/domain/model"
)

type PaymentRepository interface {
	Create(ctx context.Context, p model.Payment) (int64, error)
	FindByOrderID(ctx context.Context, orderID int64) (model.Payment, error)
}

type ShipmentRepository interface {
	Create(ctx context.Context, s model.Shipment) (int64, error)
	FindByOrderID(ctx context.Context, orderID int64) (model.Shipment, error)
}
