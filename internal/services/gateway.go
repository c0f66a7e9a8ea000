package services

import (
	"context"
	"fmt"
	"os"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/shopspring/decimal"
)

// MidtransGateway charges stored card tokens through the Midtrans Core API.
// It implements the billing engine's Gateway boundary: one charge call per
// attempt, any error or rejection surfaces as a plain error whose message
// becomes the attempt's failure reason.
type MidtransGateway struct {
	CoreClient coreapi.Client
}

// NewMidtransGateway builds the gateway client from environment configuration
func NewMidtransGateway() *MidtransGateway {
	serverKey := os.Getenv("MIDTRANS_SERVER_KEY")
	clientKey := os.Getenv("MIDTRANS_CLIENT_KEY")
	envStr := os.Getenv("MIDTRANS_IS_PRODUCTION")

	env := midtrans.Sandbox
	if envStr == "true" {
		env = midtrans.Production
	}

	var c coreapi.Client
	c.New(serverKey, env)

	// Set Default Options
	midtrans.ServerKey = serverKey
	midtrans.ClientKey = clientKey
	midtrans.Environment = env

	return &MidtransGateway{CoreClient: c}
}

type chargeOutcome struct {
	ref string
	err error
}

// Charge submits one card-token charge. The SDK is not context-aware, so the
// call runs in a goroutine and the context deadline converts into a normal
// gateway failure for the caller's retry path.
func (g *MidtransGateway) Charge(ctx context.Context, token, orderID string, amount decimal.Decimal, currency string) (string, error) {
	req := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID: orderID,
			// Midtrans bills whole currency units
			GrossAmt: amount.Round(0).IntPart(),
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: token,
		},
	}

	done := make(chan chargeOutcome, 1)
	go func() {
		resp, chargeErr := g.CoreClient.ChargeTransaction(req)
		if chargeErr != nil {
			done <- chargeOutcome{err: fmt.Errorf("gateway error: %s", chargeErr.Message)}
			return
		}
		switch resp.TransactionStatus {
		case "capture", "settlement":
			done <- chargeOutcome{ref: resp.TransactionID}
		case "pending":
			done <- chargeOutcome{err: fmt.Errorf("charge pending, not settled: %s", resp.StatusMessage)}
		default:
			done <- chargeOutcome{err: fmt.Errorf("charge %s: %s", resp.TransactionStatus, resp.StatusMessage)}
		}
	}()

	select {
	case out := <-done:
		return out.ref, out.err
	case <-ctx.Done():
		return "", fmt.Errorf("gateway timeout: %w", ctx.Err())
	}
}
