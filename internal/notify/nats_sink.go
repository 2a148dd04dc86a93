package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher はNATSへの発行を抽象化する。*nats.Connが満たす。
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSSink は通知イベントをNATSのsubjectに発行する。
// Nats-Msg-Idヘッダーに重複排除キーを設定するため、JetStreamのストリームでは重複発行が除去される。
type NATSSink struct {
	pub     Publisher
	subject string
	now     func() time.Time
}

// NewNATSSink はNATSSinkを生成する。
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject, now: time.Now}
}

// Send はイベントを1回だけ発行する。
func (s *NATSSink) Send(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(NewEvent(n, s.now()))
	if err != nil {
		return fmt.Errorf("NATSペイロードのエンコードに失敗しました: %w", err)
	}

	msg := nats.NewMsg(s.subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, n.Key().String())
	msg.Header.Set("Content-Type", "application/json")

	if err := s.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("NATSへの発行に失敗しました: %w", err)
	}
	return nil
}

// ConnectNATS はNATSサーバーに接続する。
func ConnectNATS(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("NATSへの接続に失敗しました: %w", err)
	}
	return conn, nil
}

var _ Sink = (*NATSSink)(nil)
