package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// createAuctionItemRequest is the body of POST /api/auctionitems.
// ID is the external id of the item.
type createAuctionItemRequest struct {
	ID            string           `json:"id" validate:"required"`
	Description   string           `json:"description" validate:"required,max=2000"`
	Category      string           `json:"category" validate:"required,max=2000"`
	PurchaseDate  string           `json:"purchaseDate" validate:"required,datetime=2006-01-02"`
	PurchasePrice *decimal.Decimal `json:"purchasePrice" validate:"required"`
	StartingPrice *int64           `json:"startingPrice" validate:"required,min=0"`
}

// bidRequest is the body of POST /api/auctionitems/{id}/bids.
// LastBidID is empty when the bidder has seen no earlier bids.
type bidRequest struct {
	Bidder    string `json:"bidder" validate:"required,email"`
	Amount    *int64 `json:"amount" validate:"required,min=1"`
	LastBidID string `json:"lastBidId" validate:"omitempty,uuid"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage joins the validation failures into one readable message
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is mandatory", fe.Field()))
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}
