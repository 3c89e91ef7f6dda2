package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"regexp"

	"mpesa-payment-service/internal/daraja"
	"mpesa-payment-service/internal/models"
	"mpesa-payment-service/internal/store"
	"mpesa-payment-service/pkg/common"

	"gorm.io/datatypes"
)

// SandboxTestNumber is the only payer number the Daraja sandbox accepts.
// Enforced before calling the gateway to avoid wasted calls.
const SandboxTestNumber = "254708374149"

var phonePattern = regexp.MustCompile(`^254\d{9}$`)

// Gateway is the slice of the Daraja client the initiation flow needs,
// kept as an interface so tests can substitute a double.
type Gateway interface {
	GetAccessToken(ctx context.Context) (string, error)
	STKPush(ctx context.Context, token, phoneNumber string, amount float64, accountRef, description string) (*daraja.STKPushResponse, error)
}

type PaymentService struct {
	Store      *store.TransactionStore
	Gateway    Gateway
	Production bool
}

func NewPaymentService(st *store.TransactionStore, gw Gateway, production bool) *PaymentService {
	return &PaymentService{
		Store:      st,
		Gateway:    gw,
		Production: production,
	}
}

type InitiatePaymentDTO struct {
	PhoneNumber    string
	Amount         float64
	MerchantId     *string
	AccountRef     string
	Description    string
	Source         string
	PaymentType    string
	TransactionRef string
}

type InitiatePaymentResult struct {
	TransactionId     string `json:"transactionId"`
	CheckoutRequestId string `json:"checkoutRequestId"`
	CustomerMessage   string `json:"customerMessage"`
}

// InitiatePayment validates the request, submits an STK push and persists
// the resulting transaction. Exactly one durable write per call: a pending
// record on success, a failed record on gateway rejection, or a best-effort
// error record when something breaks after submission started.
func (s *PaymentService) InitiatePayment(ctx context.Context, dto InitiatePaymentDTO) (*InitiatePaymentResult, error) {
	if !phonePattern.MatchString(dto.PhoneNumber) {
		return nil, &ValidationError{Field: "phoneNumber", Reason: "must match 254XXXXXXXXX"}
	}
	if dto.Amount <= 0 || math.IsInf(dto.Amount, 0) || math.IsNaN(dto.Amount) {
		return nil, &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	if !s.Production && dto.PhoneNumber != SandboxTestNumber {
		return nil, &ValidationError{Field: "phoneNumber", Reason: "sandbox mode only accepts the designated test number"}
	}

	ref := dto.TransactionRef
	if ref == "" {
		ref = common.GenerateTransactionRef()
	}
	description := dto.Description
	if description == "" {
		description = "Mobile payment"
	}
	accountRef := dto.AccountRef
	if accountRef == "" {
		accountRef = ref
	}

	token, err := s.Gateway.GetAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.Gateway.STKPush(ctx, token, dto.PhoneNumber, dto.Amount, accountRef, description)
	if err != nil {
		var rejected *daraja.RejectedError
		if errors.As(err, &rejected) {
			s.persistOutcome(dto, ref, models.StatusFailed, rejected.Description, nil)
			return nil, &PaymentRejectedError{Code: rejected.Code, Description: rejected.Description}
		}
		// Transport failure or timeout: the true state is unknown until a
		// callback arrives. Keep an error record for audit without masking
		// the original error.
		s.persistOutcome(dto, ref, models.StatusError, err.Error(), nil)
		return nil, err
	}

	transaction := &models.Transaction{
		MerchantId:        dto.MerchantId,
		TransactionRef:    ref,
		PhoneNumber:       dto.PhoneNumber,
		Amount:            dto.Amount,
		Status:            models.StatusPending,
		CheckoutRequestId: resp.CheckoutRequestID,
		MerchantRequestId: resp.MerchantRequestID,
		GatewayResponse:   marshalJSON(resp),
		Source:            dto.Source,
		PaymentType:       dto.PaymentType,
	}

	if err := s.Store.Create(transaction); err != nil {
		// The push went out but we could not record it; leave an error
		// record so the callback at least finds an audit trail.
		s.persistOutcome(dto, ref, models.StatusError, "failed to persist pending transaction: "+err.Error(), resp)
		return nil, err
	}

	return &InitiatePaymentResult{
		TransactionId:     transaction.ID,
		CheckoutRequestId: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// persistOutcome writes a terminal audit record. Best effort: a failure here
// must never mask the error that brought us here.
func (s *PaymentService) persistOutcome(dto InitiatePaymentDTO, ref, status, desc string, resp *daraja.STKPushResponse) {
	if s.Store == nil {
		return
	}
	transaction := &models.Transaction{
		MerchantId:     dto.MerchantId,
		TransactionRef: ref,
		PhoneNumber:    dto.PhoneNumber,
		Amount:         dto.Amount,
		Status:         status,
		ResultDesc:     desc,
		Source:         dto.Source,
		PaymentType:    dto.PaymentType,
	}
	if resp != nil {
		transaction.CheckoutRequestId = resp.CheckoutRequestID
		transaction.MerchantRequestId = resp.MerchantRequestID
		transaction.GatewayResponse = marshalJSON(resp)
	}
	if err := s.Store.Create(transaction); err != nil {
		log.Printf("Failed to persist %s transaction record for ref %s: %v", status, ref, err)
	}
}

func marshalJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
