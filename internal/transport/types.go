package transport

import "context"

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
	UpdatePayment  UpdateKind = "payment"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
	Payment  *Payment
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// Payment is a completed checkout reported by the platform.
// Payload carries the opaque string attached when the invoice was issued.
type Payment struct {
	FromID      int64
	ChatID      int64
	Payload     string
	Currency    string
	TotalAmount int
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkupAdapter is adapter-specific markup (Telegram: *telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

// Invoice is the minimal invoice surface the upgrade flow needs.
type Invoice struct {
	Title       string
	Description string
	Payload     string
	Currency    string
	Amount      int // smallest currency unit
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
	SendInvoice(ctx context.Context, chatID int64, inv Invoice) error
}
