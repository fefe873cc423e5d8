package payload

import (
	"fmt"
	"strconv"
)

// ReceiptItemName is the callback metadata item carrying the settlement receipt.
const ReceiptItemName = "MpesaReceiptNumber"

type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        *int              `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// Succeeded reports a present, zero result code.
func (c StkCallback) Succeeded() bool {
	return c.ResultCode != nil && *c.ResultCode == 0
}

type StkCallbackBody struct {
	StkCallback StkCallback `json:"stkCallback"`
}

// StkNotification is the asynchronous result the gateway posts for a push request.
type StkNotification struct {
	Body StkCallbackBody `json:"Body"`
}

// Receipt returns the value of the receipt metadata item, or "" when absent.
func (c StkCallback) Receipt() string {
	if c.CallbackMetadata == nil {
		return ""
	}
	for _, item := range c.CallbackMetadata.Item {
		if item.Name == ReceiptItemName {
			return stringValue(item.Value)
		}
	}
	return ""
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// C2BNotification is the flat body of the unsolicited validation and
// confirmation calls.
type C2BNotification struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber,omitempty"`
	OrgAccountBalance string `json:"OrgAccountBalance,omitempty"`
	ThirdPartyTransID string `json:"ThirdPartyTransID,omitempty"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName,omitempty"`
	MiddleName        string `json:"MiddleName,omitempty"`
	LastName          string `json:"LastName,omitempty"`
}

type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	AcceptedAck = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	SuccessAck  = Ack{ResultCode: 0, ResultDesc: "Success"}
)

type StkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// StkPushResponse covers both the accepted shape and the error shape the
// gateway returns with non-2xx statuses.
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID,omitempty"`
	CheckoutRequestID   string `json:"CheckoutRequestID,omitempty"`
	ResponseCode        string `json:"ResponseCode,omitempty"`
	ResponseDescription string `json:"ResponseDescription,omitempty"`
	CustomerMessage     string `json:"CustomerMessage,omitempty"`
	RequestID           string `json:"requestId,omitempty"`
	ErrorCode           string `json:"errorCode,omitempty"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}
