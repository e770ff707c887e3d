package filters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nexus/internal/datasource"
)

// Method is a tender kind.
type Method string

const (
	MethodCash   Method = "cash"
	MethodCard   Method = "card"
	MethodTicket Method = "ticket"
	MethodPix    Method = "pix"
)

// TicketDigits is the length of a card/ticket authorization number.
const TicketDigits = 14

var (
	ErrTenderLocked   = errors.New("previous tenders must be valid and a balance must remain")
	ErrNoTender       = errors.New("no such tender")
	ErrTicketFormat   = errors.New("ticket must have 14 digits")
	ErrTicketInvalid  = errors.New("ticket rejected")
	ErrSubmitEndpoint = errors.New("payment submit endpoint is required")
)

// Tender is one payment row.
type Tender struct {
	Method      Method          `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
	Ticket      string          `json:"ticket,omitempty"`
	TicketValid bool            `json:"ticketValid,omitempty"`
	PixKey      string          `json:"pixKey,omitempty"`
	PixTime     string          `json:"pixTimestamp,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Valid reports whether the row may be submitted.
func (t Tender) Valid() bool {
	if !t.Amount.IsPositive() {
		return false
	}
	switch t.Method {
	case MethodCash:
		return true
	case MethodCard, MethodTicket:
		return len(t.Ticket) == TicketDigits && t.TicketValid
	case MethodPix:
		return t.PixKey != "" && t.PixTime != ""
	}
	return false
}

// PaymentSnapshot is the dialog state.
type PaymentSnapshot struct {
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
	Tenders   []Tender        `json:"tenders"`
	CanAdd    bool            `json:"canAdd"`
	CanSubmit bool            `json:"canSubmit"`
	Submitted bool            `json:"submitted"`
	Error     string          `json:"error,omitempty"`
}

// Payment collects tenders that together settle a total. The sum of tender
// amounts never exceeds the total: amounts are clamped to the remaining
// balance on entry.
type Payment struct {
	mu        sync.Mutex
	cfg       PaymentConfig
	fetcher   datasource.Fetcher
	total     decimal.Decimal
	fields    map[string]any
	context   map[string]string
	tenders   []Tender
	submitted bool
	err       string
}

// NewPayment opens a payment for total.
func NewPayment(total decimal.Decimal, cfg PaymentConfig, fetcher datasource.Fetcher, fields map[string]any, ctxParams map[string]string) *Payment {
	return &Payment{cfg: cfg, fetcher: fetcher, total: total, fields: fields, context: ctxParams}
}

func (p *Payment) paidLocked(skip int) decimal.Decimal {
	sum := decimal.Zero
	for i, t := range p.tenders {
		if i == skip {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum
}

func (p *Payment) remainingLocked() decimal.Decimal {
	return p.total.Sub(p.paidLocked(-1))
}

func (p *Payment) canAddLocked() bool {
	for _, t := range p.tenders {
		if !t.Valid() {
			return false
		}
	}
	return p.remainingLocked().IsPositive() && !p.submitted
}

func (p *Payment) canSubmitLocked() bool {
	if len(p.tenders) == 0 || p.submitted || p.cfg.SubmitEndpoint == "" {
		return false
	}
	for _, t := range p.tenders {
		if !t.Valid() {
			return false
		}
	}
	return p.paidLocked(-1).Equal(p.total)
}

// Snapshot returns a copy of the dialog state.
func (p *Payment) Snapshot() PaymentSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	paid := p.paidLocked(-1)
	tenders := make([]Tender, len(p.tenders))
	copy(tenders, p.tenders)
	msg := p.err
	if msg == "" && p.cfg.SubmitEndpoint == "" {
		msg = ErrSubmitEndpoint.Error()
	}
	return PaymentSnapshot{
		Total:     p.total,
		Paid:      paid,
		Remaining: p.total.Sub(paid),
		Tenders:   tenders,
		CanAdd:    p.canAddLocked(),
		CanSubmit: p.canSubmitLocked(),
		Submitted: p.submitted,
		Error:     msg,
	}
}

func (p *Payment) Total() decimal.Decimal { return p.total }

func (p *Payment) CanSubmit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canSubmitLocked()
}

// AddTender appends a row prefilled with the remaining balance. It is refused
// until every existing row is valid and some balance remains.
func (p *Payment) AddTender(m Method) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch m {
	case MethodCash, MethodCard, MethodTicket, MethodPix:
	default:
		return -1, fmt.Errorf("unknown payment method %q", m)
	}
	if !p.canAddLocked() {
		return -1, ErrTenderLocked
	}
	p.tenders = append(p.tenders, Tender{Method: m, Amount: p.remainingLocked()})
	return len(p.tenders) - 1, nil
}

// RemoveTender deletes a row.
func (p *Payment) RemoveTender(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.tenders) {
		return ErrNoTender
	}
	p.tenders = append(p.tenders[:i], p.tenders[i+1:]...)
	return nil
}

// SetAmount parses raw and clamps it into [0, remaining excluding row i].
// It returns the amount actually stored.
func (p *Payment) SetAmount(i int, raw string) (decimal.Decimal, error) {
	amount, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.tenders) {
		return decimal.Zero, ErrNoTender
	}
	amount = p.clampLocked(i, amount)
	p.tenders[i].Amount = amount
	return amount, nil
}

func (p *Payment) clampLocked(i int, amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	limit := p.total.Sub(p.paidLocked(i))
	if limit.IsNegative() {
		limit = decimal.Zero
	}
	if amount.GreaterThan(limit) {
		return limit
	}
	return amount.Round(2)
}

// parseAmount accepts "12.50", "12,50" and "1.234,56".
func parseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return d, nil
}

// SetTicket stores the digits of a card/ticket number and clears any earlier
// validation.
func (p *Payment) SetTicket(i int, number string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.tenders) {
		return ErrNoTender
	}
	p.tenders[i].Ticket = digitsOnly(number)
	p.tenders[i].TicketValid = false
	p.tenders[i].Error = ""
	return nil
}

// SetPix records the pix key and the time it was confirmed.
func (p *Payment) SetPix(i int, key string, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.tenders) {
		return ErrNoTender
	}
	p.tenders[i].PixKey = strings.TrimSpace(key)
	if p.tenders[i].PixKey == "" {
		p.tenders[i].PixTime = ""
	} else {
		p.tenders[i].PixTime = at.UTC().Format(time.RFC3339)
	}
	return nil
}

// ValidateTicket checks row i's ticket against the ticket endpoint. When the
// response carries an amount it is copied into the row, clamped.
func (p *Payment) ValidateTicket(ctx context.Context, i int) error {
	p.mu.Lock()
	if i < 0 || i >= len(p.tenders) {
		p.mu.Unlock()
		return ErrNoTender
	}
	ticket := p.tenders[i].Ticket
	p.mu.Unlock()

	if len(ticket) != TicketDigits {
		p.setRowError(i, ErrTicketFormat)
		return ErrTicketFormat
	}
	if p.cfg.TicketEndpoint == "" {
		err := errors.New("ticket endpoint is not configured")
		p.setRowError(i, err)
		return err
	}

	target := datasource.WithQuery(p.cfg.TicketEndpoint, url.Values{"ticket": {ticket}})
	resp, err := p.fetcher.FetchJSON(ctx, http.MethodGet, target, nil)
	if err != nil {
		p.setRowError(i, err)
		return fmt.Errorf("validate ticket: %w", err)
	}
	if !datasource.Truthy(resp) {
		p.setRowError(i, ErrTicketInvalid)
		return ErrTicketInvalid
	}

	path := p.cfg.AmountPath
	if path == "" {
		path = "amount"
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.tenders) || p.tenders[i].Ticket != ticket {
		return nil
	}
	p.tenders[i].TicketValid = true
	p.tenders[i].Error = ""
	if v, ok := datasource.Lookup(resp, path); ok {
		if amount, err := parseAmount(datasource.ScalarString(v)); err == nil && amount.IsPositive() {
			p.tenders[i].Amount = p.clampLocked(i, amount)
		}
	}
	return nil
}

func (p *Payment) setRowError(i int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < len(p.tenders) {
		p.tenders[i].TicketValid = false
		p.tenders[i].Error = err.Error()
	}
}

type submitPayment struct {
	Method       Method      `json:"method"`
	Amount       json.Number `json:"amount"`
	Ticket       string      `json:"ticket,omitempty"`
	PixKey       string      `json:"pixKey,omitempty"`
	PixTimestamp string      `json:"pixTimestamp,omitempty"`
}

type submitBody struct {
	Total    json.Number       `json:"total"`
	Fields   map[string]any    `json:"fields"`
	Payments []submitPayment   `json:"payments"`
	Context  map[string]string `json:"context,omitempty"`
}

// Submit posts the payment. It is refused unless CanSubmit holds.
func (p *Payment) Submit(ctx context.Context) (any, error) {
	p.mu.Lock()
	if p.cfg.SubmitEndpoint == "" {
		p.mu.Unlock()
		return nil, ErrSubmitEndpoint
	}
	if !p.canSubmitLocked() {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: payments must add up to the total", ErrValidation)
	}
	body := submitBody{
		Total:   json.Number(p.total.StringFixed(2)),
		Fields:  p.fields,
		Context: p.context,
	}
	for _, t := range p.tenders {
		body.Payments = append(body.Payments, submitPayment{
			Method:       t.Method,
			Amount:       json.Number(t.Amount.StringFixed(2)),
			Ticket:       t.Ticket,
			PixKey:       t.PixKey,
			PixTimestamp: t.PixTime,
		})
	}
	p.mu.Unlock()

	resp, err := p.fetcher.FetchJSON(ctx, http.MethodPost, p.cfg.SubmitEndpoint, body)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.err = err.Error()
		return nil, fmt.Errorf("submit payment: %w", err)
	}
	p.submitted = true
	p.err = ""
	return resp, nil
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// parseTotal reads a positive total from a field value or response value.
func parseTotal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case float64:
		d := decimal.NewFromFloat(t)
		return d, d.IsPositive()
	case string:
		d, err := parseAmount(t)
		return d, err == nil && d.IsPositive()
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil && d.IsPositive()
	}
	return decimal.Zero, false
}
