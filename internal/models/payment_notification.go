package models

// PaymentNotification is an inbound, untrusted claim that money moved.
// Filled from a gateway webhook or from a polled operation query; nothing here
// is trusted until the provider verifies the signature.
type PaymentNotification struct {
	Label       string `json:"label"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	OperationID string `json:"operation_id"`
	DateTime    string `json:"datetime"`
	Sender      string `json:"sender"`
	// Escrowed marks a protected (codepro) transfer that needs a manual
	// release on the gateway side before the money is actually available.
	Escrowed  bool   `json:"escrowed"`
	Signature string `json:"signature"`
}
