package repository

import (
	"ec-checkout/internal/domain/model"
	"context"
)

// 注文の配送先住所を保存・取得する窓口
type AddressRepository interface {
	//Create は住所を新規作成してIDを返す
	Create(ctx context.Context, address model.Address) (int64, error)

	//住所IDから住所を1件取得
	FindByID(ctx context.Context, addressID int64) (model.Address, error)
}
