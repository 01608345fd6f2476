// Package apperr holds the business error taxonomy shared by the ledger, the
// lifecycle and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrOfferNotFound          = errors.New("offer not found")
	ErrJobNotFound            = errors.New("job not found")
	ErrProductNotFound        = errors.New("product not found")
	ErrBalanceHistoryNotFound = errors.New("balance history entry not found")

	ErrNotEnoughBalance = errors.New("not enough balance")

	ErrOwnerUnableToBuyProduct = errors.New("owner unable to buy own product")
	ErrUnauthorizedForAction   = errors.New("unauthorized for action")

	ErrDuplicateBuy            = errors.New("product already bought")
	ErrCantRemoveOrderIsActive = errors.New("cannot remove order with active job")
	ErrOrderHasActiveJob       = errors.New("order already has an active job")
	ErrOfferAlreadyAccepted    = errors.New("offer already accepted")
	ErrJobNotActive            = errors.New("job is not active")
	ErrJobNotCompleted         = errors.New("job is not completed")
	ErrJobAlreadyCompleted     = errors.New("job already completed")
	ErrOrderAlreadyApproved    = errors.New("order already approved")

	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")
)

// HTTPStatus maps err onto a response status. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrOfferNotFound),
		errors.Is(err, ErrJobNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrBalanceHistoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOwnerUnableToBuyProduct),
		errors.Is(err, ErrUnauthorizedForAction):
		return http.StatusForbidden
	case errors.Is(err, ErrNotEnoughBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrDuplicateBuy),
		errors.Is(err, ErrCantRemoveOrderIsActive),
		errors.Is(err, ErrOrderHasActiveJob),
		errors.Is(err, ErrOfferAlreadyAccepted),
		errors.Is(err, ErrJobNotActive),
		errors.Is(err, ErrJobNotCompleted),
		errors.Is(err, ErrJobAlreadyCompleted),
		errors.Is(err, ErrOrderAlreadyApproved):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidProgress):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// IsBusiness reports whether err belongs to the taxonomy above.
func IsBusiness(err error) bool {
	return HTTPStatus(err) != http.StatusInternalServerError
}
