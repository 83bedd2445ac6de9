package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"emoney-portal/config"

	pubnub "github.com/pubnub/go/v7"
)

// PubNubNotifier publishes merchant QR notifications and listens to the
// platform's payment notification channel.
type PubNubNotifier struct {
	pn            *pubnub.PubNub
	listener      *pubnub.Listener
	notifyChannel string
}

func NewPubNubNotifier(cfg *config.Config) *PubNubNotifier {
	pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PubNubUserID))
	pnCfg.PublishKey = cfg.PubNubPublishKey
	pnCfg.SubscribeKey = cfg.PubNubSubscribeKey
	pnCfg.SecretKey = cfg.PubNubSecretKey

	return &PubNubNotifier{
		pn:            pubnub.NewPubNub(pnCfg),
		listener:      pubnub.NewListener(),
		notifyChannel: cfg.PubNubNotifyChannel,
	}
}

func (n *PubNubNotifier) Publish(ctx context.Context, channel string, msg any) error {
	_, st, err := n.pn.PublishWithContext(ctx).
		Channel(channel).
		Message(msg).
		Execute()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	if st.StatusCode >= 300 {
		return fmt.Errorf("publish to %s: status %d", channel, st.StatusCode)
	}
	return nil
}

// Listen subscribes to the notify channel and hands every payment notice to
// handle until ctx is done.
func (n *PubNubNotifier) Listen(ctx context.Context, handle func(ctx context.Context, notice PaymentNotice) error) {
	n.pn.AddListener(n.listener)
	n.pn.Subscribe().
		Channels([]string{n.notifyChannel}).
		Execute()
	defer n.pn.UnsubscribeAll()

	for {
		select {
		case st := <-n.listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				slog.Info("connected to pubnub", "channel", n.notifyChannel)
			case pubnub.PNReconnectedCategory:
				slog.Info("reconnected to pubnub", "channel", n.notifyChannel)
			case pubnub.PNDisconnectedCategory:
				slog.Warn("disconnected from pubnub", "channel", n.notifyChannel)
			case pubnub.PNAccessDeniedCategory, pubnub.PNBadRequestCategory:
				slog.Error("pubnub subscription rejected", "category", st.Category, "channel", n.notifyChannel)
			}

		case msg := <-n.listener.Message:
			notice, err := decodeNotice(msg.Message)
			if err != nil {
				slog.Warn("decodeNotice()", "error", err, "channel", msg.Channel)
				continue
			}
			if err := handle(ctx, notice); err != nil {
				slog.Error("handle payment notice", "error", err, "merchant_code", notice.MerchantCode)
			}

		case <-ctx.Done():
			slog.Info("pubnub listener stopped", "channel", n.notifyChannel)
			return
		}
	}
}

func (n *PubNubNotifier) Close() {
	n.pn.Destroy()
}

// decodeNotice accepts a notice sent either as a JSON string or as an object.
func decodeNotice(payload any) (PaymentNotice, error) {
	var notice PaymentNotice
	var data []byte
	switch v := payload.(type) {
	case string:
		data = []byte(v)
	case map[string]any:
		var err error
		if data, err = json.Marshal(v); err != nil {
			return notice, err
		}
	default:
		return notice, fmt.Errorf("unexpected notice payload %T", payload)
	}
	if err := json.Unmarshal(data, &notice); err != nil {
		return notice, fmt.Errorf("decode notice: %w", err)
	}
	return notice, nil
}
