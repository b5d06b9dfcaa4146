package intake

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DonationGoal is the amount at which the progress bar is full.
var DonationGoal = decimal.NewFromInt(10000)

var hundred = decimal.NewFromInt(100)

// leadingNumber accepts what a lenient float parse would read from the start of a field:
// sign, integer digits, fraction digits, exponent.
var leadingNumber = regexp.MustCompile(`^([+-]?)(\d*)(?:\.(\d*))?(?:[eE]([+-]?\d+))?`)

// donationCommand adds an accepted contribution to the running total.
type donationCommand struct {
	amount decimal.Decimal
	reply  chan decimal.Decimal
}

// Service handles the three intake forms. None of them persist anything; the
// donation total lives only as long as the process.
type Service struct {
	donations chan donationCommand
	totals    chan chan decimal.Decimal
	quit      chan struct{}
	logger    *zap.Logger
}

// NewService starts the goroutine that owns the donation total.
func NewService(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &Service{
		donations: make(chan donationCommand),
		totals:    make(chan chan decimal.Decimal),
		quit:      make(chan struct{}),
		logger:    logger,
	}
	go svc.loop()
	return svc
}

func (s *Service) loop() {
	total := decimal.Zero
	for {
		select {
		case cmd := <-s.donations:
			total = total.Add(cmd.amount)
			cmd.reply <- total
		case reply := <-s.totals:
			reply <- total
		case <-s.quit:
			return
		}
	}
}

// Sell records a listing request. There is no backend; the submission is only logged.
func (s *Service) Sell(ctx context.Context, req SellRequest) (Receipt, error) {
	s.logger.Info("sell form submitted",
		zap.String("name", req.Name),
		zap.String("price", ParseAmount(req.Price).String()),
		zap.String("condition", req.Condition),
		zap.String("description", req.Description),
	)
	return Receipt{Message: "Your device has been listed for sale!"}, nil
}

// Repair records a repair request. There is no backend; the submission is only logged.
func (s *Service) Repair(ctx context.Context, req RepairRequest) (Receipt, error) {
	s.logger.Info("repair form submitted",
		zap.String("device_type", req.DeviceType),
		zap.String("issue_description", req.IssueDescription),
		zap.String("contact_info", req.ContactInfo),
	)
	return Receipt{Message: "Your repair request has been submitted!"}, nil
}

// Donate adds a positive amount to the running total. A non-positive amount is
// rejected unless round-up is requested, in which case nothing is added.
func (s *Service) Donate(ctx context.Context, req DonationRequest) (Receipt, error) {
	amount := ParseAmount(req.Amount)
	if !amount.IsPositive() && !req.RoundUp {
		return Receipt{}, newValidationError("Please enter a valid donation amount")
	}
	if !amount.IsPositive() {
		amount = decimal.Zero
	}

	reply := make(chan decimal.Decimal, 1)
	select {
	case s.donations <- donationCommand{amount: amount, reply: reply}:
	case <-ctx.Done():
		return Receipt{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return Receipt{}, errors.New("donation queue is busy")
	}
	total := <-reply

	s.logger.Info("donation accepted",
		zap.String("amount", amount.StringFixed(2)),
		zap.Bool("round_up", req.RoundUp),
		zap.String("total", total.StringFixed(2)),
	)
	return Receipt{
		Message: fmt.Sprintf("Thank you for your $%s donation!", amount.StringFixed(2)),
		Amount:  amount,
	}, nil
}

// Donations reports the running total against the goal.
func (s *Service) Donations(ctx context.Context) (DonationSummary, error) {
	reply := make(chan decimal.Decimal, 1)
	select {
	case s.totals <- reply:
	case <-ctx.Done():
		return DonationSummary{}, ctx.Err()
	case <-time.After(2 * time.Second):
		return DonationSummary{}, errors.New("donation queue is busy")
	}
	total := <-reply
	return DonationSummary{
		Total:   total,
		Goal:    DonationGoal,
		Percent: decimal.Min(hundred, total.Div(DonationGoal).Mul(hundred)),
	}, nil
}

// Close stops the goroutine; the total is lost.
func (s *Service) Close() {
	close(s.quit)
}

// ParseAmount reads the leading number of a form field; anything unreadable is zero.
// Infinity and exponents outside the decimal range are unreadable.
func ParseAmount(raw string) decimal.Decimal {
	m := leadingNumber.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil || (m[2] == "" && m[3] == "") {
		return decimal.Zero
	}
	sign, whole, frac, exp := m[1], m[2], m[3], m[4]
	if whole == "" {
		whole = "0"
	}
	if sign == "+" {
		sign = ""
	}
	number := sign + whole
	if frac != "" {
		number += "." + frac
	}
	if exp != "" {
		number += "e" + exp
	}
	d, err := decimal.NewFromString(number)
	if err != nil {
		return decimal.Zero
	}
	return d
}
