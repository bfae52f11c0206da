package service

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-multierror"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/model"
	"github.com/parlakisik/agent-exchange/aex-negotiation/internal/payment"
	"github.com/shopspring/decimal"
)

const (
	maxDescriptionLen = 4000
	maxAddressLen     = 500
	maxCommentLen     = 2000
	minScore          = 1
	maxScore          = 5
)

// invalid wraps the accumulated field errors as ErrInvalidPayload, or
// returns nil when there are none.
func invalid(result *multierror.Error) error {
	if err := result.ErrorOrNil(); err != nil {
		result.ErrorFormat = joinErrors
		return fmt.Errorf("%w: %v", model.ErrInvalidPayload, err)
	}
	return nil
}

func joinErrors(errs []error) string {
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func validateCaller(caller model.Caller) error {
	var result *multierror.Error
	if strings.TrimSpace(caller.ID) == "" {
		result = multierror.Append(result, errors.New("caller id is required"))
	}
	if !caller.Role.Valid() {
		result = multierror.Append(result, fmt.Errorf("unknown role %q", caller.Role))
	}
	return invalid(result)
}

func checkID(result *multierror.Error, field, id string) *multierror.Error {
	if strings.TrimSpace(id) == "" {
		return multierror.Append(result, fmt.Errorf("%s is required", field))
	}
	return result
}

func checkDescription(result *multierror.Error, field, text string, required bool) *multierror.Error {
	if strings.TrimSpace(text) == "" {
		if required {
			return multierror.Append(result, fmt.Errorf("%s must not be empty", field))
		}
		return result
	}
	if utf8.RuneCountInString(text) > maxDescriptionLen {
		return multierror.Append(result, fmt.Errorf("%s exceeds %d characters", field, maxDescriptionLen))
	}
	return result
}

// parsePrice accepts a positive decimal amount in the minor currency unit.
func parsePrice(result *multierror.Error, raw string) (decimal.Decimal, *multierror.Error) {
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, multierror.Append(result, fmt.Errorf("price %q is not a decimal amount", raw))
	}
	if !price.IsPositive() {
		return decimal.Zero, multierror.Append(result, fmt.Errorf("price must be positive, got %s", price))
	}
	return price, result
}

func validatePostJob(req model.PostJobRequest) error {
	var result *multierror.Error
	result = checkID(result, "category_id", req.CategoryID)
	result = checkDescription(result, "description", req.Description, true)
	if utf8.RuneCountInString(req.Address) > maxAddressLen {
		result = multierror.Append(result, fmt.Errorf("address exceeds %d characters", maxAddressLen))
	}
	return invalid(result)
}

func validateSubmitOffer(req model.SubmitOfferRequest) (decimal.Decimal, error) {
	var result *multierror.Error
	result = checkID(result, "job_id", req.JobID)
	price, result := parsePrice(result, req.Price)
	result = checkDescription(result, "description", req.Description, true)
	return price, invalid(result)
}

// validateEditOffer returns a nil price when the edit keeps the current one.
func validateEditOffer(req model.EditOfferRequest) (*decimal.Decimal, error) {
	var result *multierror.Error
	result = checkID(result, "offer_id", req.OfferID)
	if req.Price == "" && strings.TrimSpace(req.Description) == "" {
		result = multierror.Append(result, errors.New("nothing to change: set price or description"))
	}
	var price *decimal.Decimal
	if req.Price != "" {
		var p decimal.Decimal
		p, result = parsePrice(result, req.Price)
		price = &p
	}
	result = checkDescription(result, "description", req.Description, false)
	return price, invalid(result)
}

func validateCounterOffer(req model.CounterOfferRequest) (decimal.Decimal, error) {
	var result *multierror.Error
	result = checkID(result, "offer_id", req.OfferID)
	price, result := parsePrice(result, req.Price)
	result = checkDescription(result, "description", req.Description, true)
	return price, invalid(result)
}

func validateMethod(result *multierror.Error, method string) *multierror.Error {
	if method != "" && !payment.ValidMethod(method) {
		return multierror.Append(result, fmt.Errorf("unknown payment method %q", method))
	}
	return result
}

func validateAccept(req model.AcceptOfferRequest) error {
	var result *multierror.Error
	result = checkID(result, "offer_id", req.OfferID)
	result = validateMethod(result, req.PaymentMethod)
	return invalid(result)
}

func validateRetryPayment(req model.RetryPaymentRequest) error {
	var result *multierror.Error
	result = checkID(result, "job_id", req.JobID)
	result = validateMethod(result, req.Method)
	return invalid(result)
}

func validateRating(req model.RatingRequest) error {
	var result *multierror.Error
	result = checkID(result, "job_id", req.JobID)
	if req.Score < minScore || req.Score > maxScore {
		result = multierror.Append(result, fmt.Errorf("score must be between %d and %d", minScore, maxScore))
	}
	if utf8.RuneCountInString(req.Comment) > maxCommentLen {
		result = multierror.Append(result, fmt.Errorf("comment exceeds %d characters", maxCommentLen))
	}
	return invalid(result)
}

func validateSettlement(n model.SettlementNotice) error {
	var result *multierror.Error
	result = checkID(result, "job_id", n.JobID)
	result = checkID(result, "reference", n.Reference)
	return invalid(result)
}

func requireID(field, id string) error {
	return invalid(checkID(nil, field, id))
}
