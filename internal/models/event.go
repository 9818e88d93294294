package models

// Типы кадров realtime-протокола.
const (
	EventInvoiceUpdate     = "invoice_update"
	EventMasterClassUpdate = "master_class_update"
	EventNotification      = "notification"
	EventPing              = "ping"
	EventPong              = "pong"
	EventSubscribe         = "subscribe"
)

// Служебные каналы.
const (
	ChannelSystem    = "system"
	ChannelAdminRole = "role:admin"
)

// Event is one outbound realtime frame. Channels, UserIDs and Roles are
// routing hints for the hub and are not serialized to clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`

	Channels []string `json:"-"`
	UserIDs  []int    `json:"-"`
	Roles    []string `json:"-"`
}

// InvoiceUpdateData is the payload of an invoice_update frame.
type InvoiceUpdateData struct {
	InvoiceID     int    `json:"invoiceId"`
	Status        string `json:"status"`
	RefundStatus  string `json:"refundStatus,omitempty"`
	MasterClassID int64  `json:"masterClassId,omitempty"`
}

// MasterClassUpdateData is the payload of a master_class_update frame.
type MasterClassUpdateData struct {
	MasterClassID int64 `json:"masterClassId"`
	SeatsPaid     int   `json:"seatsPaid"`
}

// NotificationData is the payload of a user-facing notification frame.
type NotificationData struct {
	ID    int64  `json:"id,omitempty"`
	Title string `json:"title"`
	Body  string `json:"body"`
}
