package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"emoney-portal/models"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
	"github.com/segmentio/kafka-go"
)

const (
	CollectionQRSessions      = "qr_sessions"
	CollectionCashoutPayments = "cashout_payments"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter returns the audit stream writer, keyed by merchant code.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Auditor keeps terminal QR results and cashout payments as PocketBase
// records and mirrors new records to Kafka when a writer is set.
type Auditor struct {
	app    core.App
	writer MessageWriter
}

func NewAuditor(app core.App, writer MessageWriter) *Auditor {
	return &Auditor{app: app, writer: writer}
}

func (a *Auditor) RecordQR(ctx context.Context, qr *models.QRSession) error {
	col, err := a.app.FindCollectionByNameOrId(CollectionQRSessions)
	if err != nil {
		return fmt.Errorf("find %s: %w", CollectionQRSessions, err)
	}

	record := core.NewRecord(col)
	record.Set("merchant_code", qr.MerchantCode)
	record.Set("session_id", qr.SessionID)
	record.Set("amount", qr.Amount.InexactFloat64())
	record.Set("validity_period", qr.ValidityPeriod)
	record.Set("auto_updated", qr.AutoUpdated)
	if qr.Status != nil {
		record.Set("status", qr.Status.Status)
		record.Set("pan", qr.Status.PAN)
		record.Set("issuer_name", qr.Status.IssuerName)
		record.Set("reference_number", qr.Status.ReferenceNumber)
		record.Set("transaction_time", qr.Status.TransactionTime)
	}
	return a.app.SaveWithContext(ctx, record)
}

func (a *Auditor) RecordCashout(ctx context.Context, merchantCode string, flow *models.CashoutFlow) error {
	if flow.Selection == nil || flow.Result == nil {
		return nil
	}
	col, err := a.app.FindCollectionByNameOrId(CollectionCashoutPayments)
	if err != nil {
		return fmt.Errorf("find %s: %w", CollectionCashoutPayments, err)
	}

	record := core.NewRecord(col)
	record.Set("merchant_code", merchantCode)
	record.Set("bank_code", flow.Selection.BankCode)
	record.Set("service_code", flow.Selection.ServiceCode)
	record.Set("account_number", flow.Selection.AccountNumber)
	record.Set("amount", flow.Result.Amount.InexactFloat64())
	record.Set("fee", flow.Result.Fee.InexactFloat64())
	record.Set("status", flow.Result.Status)
	record.Set("reference_number", flow.Result.ReferenceNumber)
	record.Set("transaction_time", flow.Result.TransactionTime)
	return a.app.SaveWithContext(ctx, record)
}

// BindHooks mirrors every new audit record to the Kafka writer.
func (a *Auditor) BindHooks() {
	a.app.OnRecordAfterCreateSuccess(CollectionQRSessions, CollectionCashoutPayments).BindFunc(func(e *core.RecordEvent) error {
		if err := a.publish(e.Context, e.Record); err != nil {
			slog.Error("publish audit record", "error", err, "collection", e.Record.Collection().Name, "id", e.Record.Id)
		}
		return e.Next()
	})
}

func (a *Auditor) publish(ctx context.Context, record *core.Record) error {
	if a.writer == nil {
		return nil
	}
	value, err := json.Marshal(map[string]any{
		"type":   record.Collection().Name,
		"id":     record.Id,
		"record": record,
	})
	if err != nil {
		return err
	}
	return a.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.GetString("merchant_code")),
		Value: value,
	})
}

// QRHistoryEntry is one audited QR session.
type QRHistoryEntry struct {
	ID              string         `db:"id" json:"id"`
	MerchantCode    string         `db:"merchant_code" json:"merchant_code"`
	Amount          float64        `db:"amount" json:"amount"`
	Status          string         `db:"status" json:"status"`
	ReferenceNumber string         `db:"reference_number" json:"reference_number"`
	IssuerName      string         `db:"issuer_name" json:"issuer_name"`
	AutoUpdated     bool           `db:"auto_updated" json:"auto_updated"`
	Created         types.DateTime `db:"created" json:"created"`
}

// History returns the newest audited QR sessions of a merchant.
func (a *Auditor) History(ctx context.Context, merchantCode string, limit int) ([]QRHistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows := []QRHistoryEntry{}
	err := a.app.DB().
		Select("id", "merchant_code", "amount", "status", "reference_number", "issuer_name", "auto_updated", "created").
		From(CollectionQRSessions).
		Where(dbx.HashExp{"merchant_code": merchantCode}).
		OrderBy("created DESC").
		Limit(int64(limit)).
		WithContext(ctx).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("qr history: %w", err)
	}
	return rows, nil
}
