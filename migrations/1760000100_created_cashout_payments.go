package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("cashout_payments")

		collection.Fields.Add(
			&core.TextField{Name: "merchant_code", Required: true, Max: 50},
			&core.TextField{Name: "bank_code", Required: true, Max: 20},
			&core.TextField{Name: "service_code", Max: 50},
			&core.TextField{Name: "account_number", Max: 20},
			&core.NumberField{Name: "amount", Min: new(float64)},
			&core.NumberField{Name: "fee", Min: new(float64)},
			&core.TextField{Name: "status", Max: 50},
			&core.TextField{Name: "reference_number", Max: 100},
			&core.TextField{Name: "transaction_time", Max: 50},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_cashout_payments_reference", false, "reference_number", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("cashout_payments")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
