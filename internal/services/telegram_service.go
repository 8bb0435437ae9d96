package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const telegramAPI = "https://api.telegram.org"

// TelegramService sends order notifications to the admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
	baseURL     string
	client      *http.Client
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
		baseURL:     telegramAPI,
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to specified chat.
func (s *TelegramService) SendMessage(ctx context.Context, chatID, text string) error {
	if s.botToken == "" {
		slog.DebugContext(ctx, "telegram bot token not configured")
		return nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.botToken)

	body, err := json.Marshal(telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(ctx context.Context, text string) error {
	if s.adminChatID == "" {
		return nil
	}
	return s.SendMessage(ctx, s.adminChatID, text)
}

// OrderNotification contains order data for Telegram notification.
type OrderNotification struct {
	OrderNumber string
	Items       []OrderItemNotification
	TotalAmount decimal.Decimal
	Currency    string
	UserPhone   string
	Status      string
}

// OrderItemNotification contains order item data.
type OrderItemNotification struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
}

// FormatPrice formats price with currency and thousand separators.
func FormatPrice(amount decimal.Decimal, currency string) string {
	if currency == "" {
		currency = "INR"
	}

	str := amount.StringFixed(0)
	sign := ""
	if strings.HasPrefix(str, "-") {
		sign, str = "-", str[1:]
	}

	var result strings.Builder
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return sign + result.String() + " " + currency
}

// NotifyNewOrder sends notification about new order to admin chat.
func (s *TelegramService) NotifyNewOrder(ctx context.Context, order OrderNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	var itemsList strings.Builder
	for i, item := range order.Items {
		lineTotal := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		itemsList.WriteString(fmt.Sprintf("%d. <b>%s</b>\n   %d x %s = %s\n",
			i+1,
			html.EscapeString(item.Name),
			item.Quantity,
			FormatPrice(item.Price, order.Currency),
			FormatPrice(lineTotal, order.Currency),
		))
	}

	statusText := "⏳ Awaiting payment"
	if order.Status == "paid" {
		statusText = "✅ Paid"
	}

	message := fmt.Sprintf(`<b>🛒 NEW ORDER</b>
<b>Order:</b> %s
<b>Phone:</b> %s
<b>Items:</b>
%s
<b>Total:</b> %s
<b>Status:</b> %s`,
		html.EscapeString(order.OrderNumber),
		html.EscapeString(order.UserPhone),
		itemsList.String(),
		FormatPrice(order.TotalAmount, order.Currency),
		statusText,
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}

// PaymentSuccessNotification contains payment success data.
type PaymentSuccessNotification struct {
	OrderNumber string
	PaymentID   string
	Amount      decimal.Decimal
	Currency    string
}

// NotifyPaymentSuccess sends notification about successful payment.
func (s *TelegramService) NotifyPaymentSuccess(ctx context.Context, payment PaymentSuccessNotification) error {
	if s.adminChatID == "" {
		return nil
	}

	message := fmt.Sprintf(`<b>✅ PAYMENT RECEIVED</b>
<b>Order:</b> %s
<b>Payment:</b> %s
<b>Amount:</b> %s`,
		html.EscapeString(payment.OrderNumber),
		html.EscapeString(payment.PaymentID),
		FormatPrice(payment.Amount, payment.Currency),
	)

	return s.SendToAdmin(ctx, strings.TrimSpace(message))
}
