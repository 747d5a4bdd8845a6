package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/gomail.v2"
)

// Message is a plain text mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a Message.
type Mailer interface {
	Send(msg Message) error
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(host string, port int, user, passwd, from string) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, user, passwd),
		from:   from,
	}
}

func (m *SMTPMailer) Send(msg Message) error {
	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)
	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("send mail to %s: %w", msg.To, err)
	}
	return nil
}

// MoneyFormatter renders amounts in the shop currency for a locale.
type MoneyFormatter struct {
	unit    currency.Unit
	printer *message.Printer
}

func NewMoneyFormatter(code, locale string) (*MoneyFormatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("currency %q: %w", code, err)
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("locale %q: %w", locale, err)
	}
	return &MoneyFormatter{unit: unit, printer: message.NewPrinter(tag)}, nil
}

// Code is the ISO 4217 code of the shop currency.
func (f *MoneyFormatter) Code() string {
	return f.unit.String()
}

func (f *MoneyFormatter) Format(d decimal.Decimal) string {
	return strings.TrimSpace(f.printer.Sprint(currency.Symbol(f.unit.Amount(d.Round(2).InexactFloat64()))))
}
