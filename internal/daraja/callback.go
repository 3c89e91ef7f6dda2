package daraja

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedCallback is returned when the callback body does not carry the
// expected Body.stkCallback envelope.
var ErrMalformedCallback = errors.New("malformed stk callback envelope")

// STKCallbackEnvelope is the wire shape Daraja POSTs to the callback URL.
type STKCallbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackResult is the flattened view of an STK callback.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	ResultCode        int
	ResultDesc        string
	Metadata          map[string]interface{}
}

// Amount returns the confirmed amount from the metadata, if present.
func (r *CallbackResult) Amount() (float64, bool) {
	v, ok := r.Metadata["Amount"].(float64)
	return v, ok
}

// ReceiptNumber returns the MpesaReceiptNumber metadata item, if present.
func (r *CallbackResult) ReceiptNumber() string {
	v, _ := r.Metadata["MpesaReceiptNumber"].(string)
	return v
}

// PhoneNumber returns the payer phone from the metadata. Daraja sends it as
// a number, so both forms are handled.
func (r *CallbackResult) PhoneNumber() string {
	switch v := r.Metadata["PhoneNumber"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// TransactionDate returns the gateway-side completion timestamp
// (YYYYMMDDHHmmss) as a string, if present.
func (r *CallbackResult) TransactionDate() string {
	switch v := r.Metadata["TransactionDate"].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// ParseSTKCallback validates the envelope and flattens the metadata item
// list into a name-to-value map.
func ParseSTKCallback(payload []byte) (*CallbackResult, error) {
	var envelope STKCallbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := envelope.Body.StkCallback
	if cb == nil || cb.CheckoutRequestID == "" {
		return nil, ErrMalformedCallback
	}

	result := &CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Metadata:          make(map[string]interface{}),
	}

	for _, item := range cb.CallbackMetadata.Item {
		result.Metadata[item.Name] = item.Value
	}

	return result, nil
}
