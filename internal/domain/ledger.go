package domain

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeCaptured Outcome = "captured"
	OutcomeFailed   Outcome = "failed"
	OutcomeRefunded Outcome = "refunded"
)

type PaymentStatus string

const (
	PaymentUnpaid            PaymentStatus = "unpaid"
	PaymentPartiallyPaid     PaymentStatus = "partially_paid"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentRefunded          PaymentStatus = "refunded"
)

// DefaultTolerance is how far paid may drift past the total before an
// overpayment is rejected.
const DefaultTolerance = 0.01

// Transaction is an immutable ledger entry. Corrections are new entries.
type Transaction struct {
	ID               uuid.UUID `json:"id"`
	Amount           float64   `json:"amount"`
	Method           string    `json:"method"`
	Status           Outcome   `json:"status"`
	GatewayReference string    `json:"gateway_reference"`
	Timestamp        time.Time `json:"timestamp"`
}

type Payment struct {
	Status       PaymentStatus `json:"status"`
	Transactions []Transaction `json:"transactions"`
	PaidAmount   float64       `json:"paid_amount"`
	DueAmount    float64       `json:"due_amount"`
	Method       string        `json:"method"`
}

func NewPayment(total float64, method string) Payment {
	return Payment{
		Status:       PaymentUnpaid,
		Transactions: []Transaction{},
		DueAmount:    roundCents(total),
		Method:       method,
	}
}

type PaymentInput struct {
	Amount           float64
	Method           string
	GatewayReference string
	Outcome          Outcome
}

// Ledger appends transactions to a payment and keeps its totals derived from
// them.
type Ledger struct {
	Tolerance float64
}

func NewLedger(tolerance float64) Ledger {
	if tolerance < 0 {
		tolerance = 0
	}
	return Ledger{Tolerance: tolerance}
}

var DefaultLedger = NewLedger(DefaultTolerance)

// Record validates in against the current totals and appends it. Nothing is
// changed when an error is returned.
func (l Ledger) Record(p *Payment, total float64, in PaymentInput, now time.Time) (Transaction, error) {
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return Transaction{}, errors.Wrap(ErrInvalidPaymentAmount, "amount is not a finite number")
	}
	amount := roundCents(in.Amount)

	switch in.Outcome {
	case OutcomeCaptured:
		if amount <= 0 {
			return Transaction{}, errors.Wrapf(ErrInvalidPaymentAmount, "captured amount %.2f must be positive", amount)
		}
		if p.PaidAmount+amount > total+l.Tolerance {
			return Transaction{}, errors.Wrapf(ErrInvalidPaymentAmount,
				"overpayment: paid %.2f + %.2f exceeds total %.2f", p.PaidAmount, amount, total)
		}
	case OutcomeFailed:
		if amount < 0 {
			return Transaction{}, errors.Wrapf(ErrInvalidPaymentAmount, "failed amount %.2f must not be negative", amount)
		}
	case OutcomeRefunded:
		if amount >= 0 {
			return Transaction{}, errors.Wrapf(ErrInvalidPaymentAmount, "refund amount %.2f must be negative", amount)
		}
		if p.PaidAmount+amount < -l.Tolerance {
			return Transaction{}, errors.Wrapf(ErrInvalidPaymentAmount,
				"refund %.2f exceeds paid %.2f", -amount, p.PaidAmount)
		}
	default:
		return Transaction{}, errors.Wrapf(ErrInvalidInput, "unknown payment outcome %q", in.Outcome)
	}

	method := in.Method
	if method == "" {
		method = p.Method
	}
	tx := Transaction{
		ID:               uuid.New(),
		Amount:           amount,
		Method:           method,
		Status:           in.Outcome,
		GatewayReference: in.GatewayReference,
		Timestamp:        now.UTC(),
	}
	p.Transactions = append(p.Transactions, tx)
	if in.Outcome != OutcomeFailed {
		p.PaidAmount = math.Max(0, roundCents(p.PaidAmount+amount))
	}
	l.refresh(p, total)
	return tx, nil
}

func (l Ledger) refresh(p *Payment, total float64) {
	p.DueAmount = math.Max(0, roundCents(total-p.PaidAmount))

	refunded := false
	for _, tx := range p.Transactions {
		if tx.Status == OutcomeRefunded {
			refunded = true
			break
		}
	}
	switch {
	case refunded && p.PaidAmount <= l.Tolerance:
		p.Status = PaymentRefunded
	case refunded:
		p.Status = PaymentPartiallyRefunded
	case p.PaidAmount <= 0:
		p.Status = PaymentUnpaid
	case p.DueAmount <= 0:
		p.Status = PaymentPaid
	default:
		p.Status = PaymentPartiallyPaid
	}
}

// Settled reports whether nothing remains due.
func (p Payment) Settled() bool {
	return p.DueAmount <= 0
}

// HasTransaction reports whether a gateway reference was already recorded with
// the given outcome.
func (p Payment) HasTransaction(gatewayReference string, outcome Outcome) bool {
	if gatewayReference == "" {
		return false
	}
	for _, tx := range p.Transactions {
		if tx.GatewayReference == gatewayReference && tx.Status == outcome {
			return true
		}
	}
	return false
}

// Balanced checks paid + due == total within tolerance. Once money has been
// refunded the due amount is no longer collectable but the identity still
// holds.
func (l Ledger) Balanced(p Payment, total float64) bool {
	if p.DueAmount < 0 || p.PaidAmount < 0 {
		return false
	}
	if p.PaidAmount > total+l.Tolerance {
		return false
	}
	if p.DueAmount == 0 {
		return p.PaidAmount >= total-l.Tolerance
	}
	return math.Abs(p.PaidAmount+p.DueAmount-total) <= l.Tolerance
}
