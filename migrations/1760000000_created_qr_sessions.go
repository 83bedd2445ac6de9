package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("qr_sessions")

		collection.Fields.Add(
			&core.TextField{Name: "merchant_code", Required: true, Max: 50},
			&core.TextField{Name: "session_id", Max: 64},
			&core.NumberField{Name: "amount", Min: new(float64)},
			&core.DateField{Name: "validity_period"},
			&core.TextField{Name: "status", Max: 50},
			&core.TextField{Name: "pan", Max: 32},
			&core.TextField{Name: "issuer_name", Max: 200},
			&core.TextField{Name: "reference_number", Max: 100},
			&core.TextField{Name: "transaction_time", Max: 50},
			&core.BoolField{Name: "auto_updated"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)
		collection.AddIndex("idx_qr_sessions_merchant_created", false, "merchant_code, created", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("qr_sessions")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
