package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successCallback = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 1.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "Balance"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

func TestStkCallback_Receipt(t *testing.T) {
	var n StkNotification
	require.NoError(t, json.Unmarshal([]byte(successCallback), &n))

	cb := n.Body.StkCallback
	assert.Equal(t, "ws_CO_191220191020363925", cb.CheckoutRequestID)
	require.NotNil(t, cb.ResultCode)
	assert.Equal(t, 0, *cb.ResultCode)
	assert.True(t, cb.Succeeded())
	assert.Equal(t, "NLJ7RT61SV", cb.Receipt())
}

func TestStkCallback_ReceiptAbsent(t *testing.T) {
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_2","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`

	var n StkNotification
	require.NoError(t, json.Unmarshal([]byte(body), &n))

	require.NotNil(t, n.Body.StkCallback.ResultCode)
	assert.Equal(t, 1032, *n.Body.StkCallback.ResultCode)
	assert.False(t, n.Body.StkCallback.Succeeded())
	assert.Empty(t, n.Body.StkCallback.Receipt())
}

func TestStkCallback_ResultCodeMissing(t *testing.T) {
	body := `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_3","ResultDesc":"??"}}}`

	var n StkNotification
	require.NoError(t, json.Unmarshal([]byte(body), &n))

	assert.Nil(t, n.Body.StkCallback.ResultCode)
	assert.False(t, n.Body.StkCallback.Succeeded())
}

func TestStringValue(t *testing.T) {
	assert.Equal(t, "254708374149", stringValue(float64(254708374149)))
	assert.Equal(t, "abc", stringValue("abc"))
	assert.Equal(t, "", stringValue(nil))
	assert.Equal(t, "true", stringValue(true))
}
