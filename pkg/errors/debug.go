package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stripe/stripe-go/v84"
)

// ErrorDump flattens an error chain for structured logs, surfacing the
// Postgres and Stripe fields operators search by.
type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`
	Retryable  bool   `json:"retryable"`

	Chain []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`

	StripeType      string `json:"stripe_type,omitempty"`
	StripeCode      string `json:"stripe_code,omitempty"`
	StripeStatus    int    `json:"stripe_status,omitempty"`
	StripeRequestID string `json:"stripe_request_id,omitempty"`
	StripeParam     string `json:"stripe_param,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
		Retryable:  IsRetryable(err),
	}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		d.StripeType = string(stripeErr.Type)
		d.StripeCode = string(stripeErr.Code)
		d.StripeStatus = stripeErr.HTTPStatusCode
		d.StripeRequestID = stripeErr.RequestID
		d.StripeParam = stripeErr.Param
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		d.PGCode = pgxErr.Code
		d.PGConstraint = pgxErr.ConstraintName
		d.PGTable = pgxErr.TableName
		d.PGDetail = pgxErr.Detail
		return d
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		d.PGCode = string(pqErr.Code)
		d.PGConstraint = pqErr.Constraint
		d.PGTable = pqErr.Table
		d.PGDetail = pqErr.Detail
	}
	return d
}
